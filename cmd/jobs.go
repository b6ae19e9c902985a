package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/greenline-analytics/lca-cli/internal/model"
	"github.com/greenline-analytics/lca-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis job history",
	Long:  "Commands for listing and viewing analysis jobs and their processing logs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

// -- jobs logs --

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show the tail of a job's processing log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		tail, _ := cmd.Flags().GetInt("tail")
		entries, err := st.TailJobLog(ctx, args[0], tail)
		if err != nil {
			return eris.Wrap(err, "jobs logs")
		}

		for _, e := range entries {
			fileID := e.FileID
			if fileID == "" {
				fileID = "-"
			}
			fmt.Printf("%s  %-5s  %-16s  %-36s  %s\n",
				e.Timestamp.Format("15:04:05"), e.Level, e.Stage, fileID, e.Message)
		}
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by job status (pending, processing, completed, failed)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsLogsCmd.Flags().Int("tail", 100, "number of trailing log entries to show")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsLogsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// formatJobsList writes a tabular list of jobs to w.
func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tFILES\tQUARANTINED\tCREATED\tDURATION")

	for _, j := range jobs {
		quarantined := "-"
		duration := "-"
		if j.Result != nil {
			quarantined = fmt.Sprintf("%d", j.Result.FilesQuarantined)
			duration = fmt.Sprintf("%.1fs", float64(j.Result.TotalDurationMS)/1000)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			j.ID, j.Status, j.FileCount, quarantined,
			j.CreatedAt.Format("2006-01-02 15:04"), duration)
	}
	_ = w.Flush()
}
