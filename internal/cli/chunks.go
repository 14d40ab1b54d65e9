package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/models"
)

var (
	chunksPage     int
	chunksPageSize int
)

var chunksCmd = &cobra.Command{
	Use:   "chunks <id>",
	Short: "Show the stored chunks of a document",
	Long: `Show the chunks stored in the vector store for a document,
ordered by page and child position.

Examples:
  docingest chunks 0199f1d2-7c1e-7a3b-9c4d-1e2f3a4b5c6d
  docingest chunks 0199f1d2-7c1e-7a3b-9c4d-1e2f3a4b5c6d --page 2 -v`,
	Args: cobra.ExactArgs(1),
	RunE: runChunks,
}

func init() {
	chunksCmd.Flags().IntVarP(&chunksPage, "page", "p", 1, "page number")
	chunksCmd.Flags().IntVarP(&chunksPageSize, "page-size", "n", models.DefaultPageSize, "chunks per page")
}

func runChunks(cmd *cobra.Command, args []string) error {
	chunks, total, err := docs.Chunks(cmd.Context(), args[0], chunksPage, chunksPageSize)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if total == 0 {
		fmt.Fprintln(out, "No chunks stored.")
		return nil
	}
	fmt.Fprintf(out, "Chunks (%d total):\n\n", total)
	for _, c := range chunks {
		printChunk(out, c)
	}
	return nil
}

func printChunk(w io.Writer, c models.Chunk) {
	label := "chunk"
	if page, ok := c.Int(models.MetaPageNumber); ok {
		label = fmt.Sprintf("page %d", page)
	}
	if idx, ok := c.Int(models.MetaChildIndex); ok {
		label += fmt.Sprintf(" child %d", idx)
	}
	if c.IsParent() {
		label += " (parent)"
	}

	content := c.Content
	if !verbose {
		content = truncate(content, 200)
	}
	fmt.Fprintf(w, "- [%s] %s\n", label, content)
}
