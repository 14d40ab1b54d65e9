package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/service"
)

var jobNames = []string{service.JobProcessPending, service.JobScanInput, service.JobResetStalled}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Run the scheduled jobs",
	Long: `Run one scheduled job now, or run the worker loop in the foreground.

Jobs:
  process_pending_documents  claim pending documents and index them
  scan_input_directory       register new files from the input directory
  reset_stalled_documents    return stalled documents to the queue

Examples:
  docingest jobs run process_pending_documents
  docingest jobs worker`,
	Annotations: map[string]string{annotationLocalOnly: "true"},
}

var jobsRunCmd = &cobra.Command{
	Use:       "run <job>",
	Short:     "Run one job immediately",
	Args:      cobra.ExactArgs(1),
	ValidArgs: jobNames,
	RunE:      runJob,
}

var jobsWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run all jobs on their schedule until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	jobsCmd.AddCommand(jobsRunCmd)
	jobsCmd.AddCommand(jobsWorkerCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ran, err := application.Scheduler.RunOnce(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	out := cmd.OutOrStdout()
	if !ran {
		fmt.Fprintf(out, "%s skipped: another run holds the lock\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "%s finished\n", args[0])
	if verbose {
		printStats(out)
	}
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := application.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Worker %s running. Press Ctrl+C to stop.\n", application.Locker().Instance())

	<-ctx.Done()
	application.Scheduler.Stop()
	return nil
}

func printStats(w io.Writer) {
	snap := application.Collector().Snapshot()
	names := make([]string, 0, len(snap.Operations))
	for name := range snap.Operations {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "\n%-14s %7s %7s %10s %10s\n", "OPERATION", "COUNT", "ERRORS", "AVG_MS", "MAX_MS")
	for _, name := range names {
		op := snap.Operations[name]
		fmt.Fprintf(w, "%-14s %7d %7d %10.1f %10d\n", name, op.Count, op.Errors, op.AvgTimeMs, op.MaxTimeMs)
	}
}
