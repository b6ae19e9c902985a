package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayCmd = &cobra.Command{
	Use:   "replay <job-id>",
	Short: "Re-run synthesis for a completed job with quarantined files included",
	Long:  "Rebuilds the job's synthesis and report from stored outputs, including any documents that were quarantined during validation. Extraction and validation are not re-run; the new result supersedes the previous one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Controller.Replay(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "replay")
		}

		zap.L().Info("replay complete",
			zap.String("job_id", args[0]),
			zap.Int("files", len(state.ParsedOutputs)),
		)

		job, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "load job result")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
