package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/raphaelgruber/docingest/internal/service"
)

var (
	addType         string
	addUser         string
	addHierarchical bool
	addWait         bool
)

var addCmd = &cobra.Command{
	Use:   "add <source>",
	Short: "Register a document source for ingestion",
	Long: `Register a document source in the index log.

The source is a file path, URL, Confluence page URL or snippet payload,
depending on --type. Content that is already indexed is not queued again.
A known source whose content changed is queued again and its old chunks
are removed. With --server, a local file is uploaded to the server.

Examples:
  docingest add https://go.dev/doc/effective_go --type web_page
  docingest add 'https://wiki.example.com/pages/viewpage.action?pageId=42' --type confluence --hierarchical
  docingest add '{"title":"Deploys","content":"Deploys run at noon."}' --type knowledge_snippet --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVarP(&addType, "type", "t", string(models.SourceTypeWebPage), "source type (pdf, text, csv, json, docx, web_page, confluence, knowledge_snippet)")
	addCmd.Flags().StringVarP(&addUser, "user", "u", "", "user id recorded as creator")
	addCmd.Flags().BoolVar(&addHierarchical, "hierarchical", false, "use parent/child chunking")
	addCmd.Flags().BoolVarP(&addWait, "wait", "w", false, "wait until the document is processed")
}

func runAdd(cmd *cobra.Command, args []string) error {
	processing := models.ProcessingStandard
	if addHierarchical {
		processing = models.ProcessingHierarchical
	}

	var (
		res service.EnqueueResult
		err error
	)
	if path, ok := uploadPath(args[0]); ok {
		res, err = uploadFile(cmd.Context(), path, string(processing))
	} else {
		res, err = docs.Enqueue(cmd.Context(), service.EnqueueRequest{
			Source:         args[0],
			SourceType:     addType,
			UserID:         addUser,
			ProcessingType: string(processing),
		})
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", res.ID, res.Message)
	if addWait && res.Outcome != service.OutcomeAlreadyExists {
		return waitFor(cmd, []string{res.ID})
	}
	return nil
}

// uploadPath reports whether source is a local file that has to be sent to
// a remote server rather than registered by path.
func uploadPath(source string) (string, bool) {
	if remote == nil {
		return "", false
	}
	st, err := models.ParseSourceType(addType)
	if err != nil || !st.IsFileBased() {
		return "", false
	}
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		return "", false
	}
	return source, true
}

func uploadFile(ctx context.Context, path, processing string) (service.EnqueueResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return service.EnqueueResult{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return docs.Upload(ctx, service.UploadRequest{
		Filename:       filepath.Base(path),
		Content:        f,
		UserID:         addUser,
		ProcessingType: processing,
	})
}
