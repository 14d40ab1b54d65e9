package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/raphaelgruber/docingest/internal/models"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\w\-.]`)
	repeatedUnderscores = regexp.MustCompile(`_+`)
)

// UploadRequest is a file received through the API.
type UploadRequest struct {
	Filename       string
	Content        io.Reader
	UserID         string
	ProcessingType string
}

// Upload saves an uploaded file into the staging directory and registers it.
// The source type follows the file extension. A staged copy of content that
// is already indexed elsewhere is removed again.
func (s *IndexLogService) Upload(ctx context.Context, req UploadRequest) (EnqueueResult, error) {
	name := SanitizeFilename(req.Filename)
	if name == "" {
		return EnqueueResult{}, fmt.Errorf("%w: file name is required", ErrInvalidSource)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	st, ok := models.SourceTypeForExtension(ext)
	if !ok {
		return EnqueueResult{}, fmt.Errorf("%w: .%s files", ErrUnsupportedSourceType, ext)
	}
	pt, err := models.ParseProcessingType(req.ProcessingType)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrInvalidProcessingType, req.ProcessingType)
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	dir := s.deps.Config.StagingPath
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return EnqueueResult{}, fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(dir, name)
	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := writeStaged(path, req.Content); err != nil {
		return EnqueueResult{}, err
	}

	row, outcome, err := s.AddIndexLog(ctx, path, st, userID, pt)
	if err != nil {
		if !existed {
			_ = os.Remove(path)
		}
		return EnqueueResult{}, err
	}
	if outcome == OutcomeAlreadyExists && row.Source != path && !existed {
		_ = os.Remove(path)
	}
	s.logger.Info("file uploaded", "index_log_id", row.LogID(), "file", path, "outcome", outcome)
	return EnqueueResult{ID: row.LogID(), Message: outcome.Message(), Outcome: outcome}, nil
}

func writeStaged(path string, content io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write staged file: %w", err)
	}
	return f.Close()
}

// SanitizeFilename reduces an uploaded file name to letters, digits, dots,
// dashes and underscores, without any directory part.
func SanitizeFilename(name string) string {
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// validateURL accepts absolute http and https URLs with a host.
func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("URL must start with http:// or https://")
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}
