package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/models"
)

var (
	listSource    string
	listType      string
	listStatus    string
	listCreatedBy string
	listSince     time.Duration
	listPage      int
	listPageSize  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List index log entries",
	Long: `List index log entries, newest first, with optional filtering.

Examples:
  docingest list
  docingest list --status failed
  docingest list --type pdf --source report --since 24h
  docingest list --page 2 --page-size 50`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVarP(&listSource, "source", "s", "", "filter by source (substring, case-insensitive)")
	listCmd.Flags().StringVarP(&listType, "type", "t", "", "filter by source type")
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, in_progress, failed, completed)")
	listCmd.Flags().StringVar(&listCreatedBy, "created-by", "", "filter by creator (substring, case-insensitive)")
	listCmd.Flags().DurationVar(&listSince, "since", 0, "only entries created within this duration")
	listCmd.Flags().IntVarP(&listPage, "page", "p", 1, "page number")
	listCmd.Flags().IntVarP(&listPageSize, "page-size", "n", models.DefaultPageSize, "entries per page")
}

func listFilter(now time.Time) (models.IndexLogFilter, error) {
	f := models.IndexLogFilter{
		Source:    listSource,
		CreatedBy: listCreatedBy,
		Page:      listPage,
		PageSize:  listPageSize,
	}
	if listType != "" {
		st, err := models.ParseSourceType(listType)
		if err != nil {
			return f, err
		}
		f.SourceType = st
	}
	if listStatus != "" {
		status, err := models.ParseStatus(listStatus)
		if err != nil {
			return f, err
		}
		f.Status = status
	}
	if listSince > 0 {
		from := now.Add(-listSince)
		f.CreatedFrom = &from
	}
	return f.Normalize(), nil
}

func runList(cmd *cobra.Command, args []string) error {
	filter, err := listFilter(time.Now())
	if err != nil {
		return err
	}

	rows, total, err := docs.List(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("list index logs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}
	printIndexLogTable(out, rows)
	fmt.Fprintf(out, "\nPage %d of %d (%d total)\n", filter.Page, pageCount(total, filter.PageSize), total)
	return nil
}

func printIndexLogTable(w io.Writer, rows []models.IndexLog) {
	fmt.Fprintf(w, "%-36s %-18s %-12s %-5s %s\n", "ID", "TYPE", "STATUS", "TRY", "SOURCE")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------------------")
	for i := range rows {
		row := &rows[i]
		fmt.Fprintf(w, "%-36s %-18s %-12s %-5d %s\n", row.LogID(), row.SourceType, row.Status, row.RetryCount, truncate(row.Source, 60))
		if verbose && row.ErrorMessage != nil && *row.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s\n", *row.ErrorMessage)
		}
	}
}

func pageCount(total, pageSize int) int {
	if total == 0 || pageSize < 1 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
