package main

import (
	"encoding/json"
	"mime"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greenline-analytics/lca-cli/internal/ingest"
	"github.com/greenline-analytics/lca-cli/internal/model"
)

var (
	analyzeContext      string
	analyzeForceInclude bool
	analyzeOutputDir    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>...",
	Short: "Run an analysis job over local files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Store.CreateJob(ctx, len(args), analyzeContext)
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		tasks := make([]model.FileTask, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read %s", path)
			}

			task := ingest.NewTask(job.ID, filepath.Base(path), "", data)
			task.Locator = rawArtifactKey(task.FileID)
			if err := env.Store.PutArtifact(ctx, job.ID, task.Locator, contentTypeOf(path), data); err != nil {
				return eris.Wrapf(err, "store %s", path)
			}
			tasks = append(tasks, task)
		}

		state, err := env.Controller.Run(ctx, job.ID, tasks, analyzeContext, analyzeForceInclude)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("job_id", job.ID),
			zap.Int("files", len(tasks)),
			zap.Int("quarantined", len(state.QuarantinedIDs)),
		)

		done, err := env.Store.GetJob(ctx, job.ID)
		if err != nil {
			return eris.Wrap(err, "load job result")
		}

		if analyzeOutputDir != "" && done.Result != nil {
			if err := exportArtifacts(cmd, env, job.ID, done.Result.ArtifactKeys, analyzeOutputDir); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(done)
	},
}

// rawArtifactKey is the artifact key for a file's original bytes.
func rawArtifactKey(fileID string) string {
	return "raw/" + fileID
}

func contentTypeOf(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// exportArtifacts writes the job's report artifacts under dir, preserving
// key paths.
func exportArtifacts(cmd *cobra.Command, env *pipelineEnv, jobID string, artifactKeys map[string]string, dir string) error {
	ctx := cmd.Context()

	for _, key := range artifactKeys {
		data, _, err := env.Store.GetArtifact(ctx, jobID, key)
		if err != nil {
			return eris.Wrapf(err, "load artifact %s", key)
		}

		dest := filepath.Join(dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return eris.Wrapf(err, "create %s", filepath.Dir(dest))
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", dest)
		}
	}

	zap.L().Info("artifacts exported", zap.String("dir", dir), zap.Int("count", len(artifactKeys)))
	return nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeContext, "context", "", "user-provided study context passed to synthesis")
	analyzeCmd.Flags().BoolVar(&analyzeForceInclude, "force-include-quarantined", false, "include validation-failed files in synthesis")
	analyzeCmd.Flags().StringVar(&analyzeOutputDir, "output", "", "directory to export report artifacts into")
	rootCmd.AddCommand(analyzeCmd)
}
