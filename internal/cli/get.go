package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/models"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one index log entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		row, err := docs.GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printIndexLog(cmd.OutOrStdout(), row)
		return nil
	},
}

func printIndexLog(w io.Writer, row *models.IndexLog) {
	fmt.Fprintf(w, "Document: %s\n", row.LogID())
	fmt.Fprintf(w, "  Source: %s\n", row.Source)
	fmt.Fprintf(w, "  Type: %s (%s)\n", row.SourceType, row.ProcessingType)
	fmt.Fprintf(w, "  Status: %s\n", row.Status)
	fmt.Fprintf(w, "  Checksum: %s\n", row.Fingerprint())
	if row.RetryCount > 0 {
		fmt.Fprintf(w, "  Retries: %d\n", row.RetryCount)
	}
	if row.ClaimedBy != nil {
		fmt.Fprintf(w, "  Claimed by: %s\n", *row.ClaimedBy)
	}
	fmt.Fprintf(w, "  Created: %s by %s\n", row.CreatedAt.Format(time.RFC3339), row.CreatedBy)
	fmt.Fprintf(w, "  Modified: %s by %s\n", row.ModifiedAt.Format(time.RFC3339), row.ModifiedBy)
	if row.ErrorMessage != nil && *row.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error: %s\n", *row.ErrorMessage)
	}
}
