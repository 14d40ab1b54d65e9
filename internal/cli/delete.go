package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and everything indexed from it",
	Long: `Delete an index log entry.

This also deletes the document's chunks from the vector store and its
graph document (cascade delete). Requires confirmation unless --force is used.

Examples:
  docingest delete 0199f1d2-7c1e-7a3b-9c4d-1e2f3a4b5c6d
  docingest delete 0199f1d2-7c1e-7a3b-9c4d-1e2f3a4b5c6d --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	row, err := docs.GetByID(ctx, args[0])
	if err != nil {
		return err
	}

	// Confirm deletion
	if !deleteForce {
		fmt.Fprintf(out, "About to delete: %s (%s, %s)\n", row.Source, row.SourceType, row.LogID())
		fmt.Fprint(out, "\nContinue? [y/N]: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	if err := docs.DeleteByID(ctx, row.LogID()); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	fmt.Fprintf(out, "Deleted: %s\n", row.Source)
	return nil
}
