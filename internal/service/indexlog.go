package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/raphaelgruber/docingest/internal/checksum"
	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/raphaelgruber/docingest/internal/store"
)

// AddOutcome describes what AddIndexLog did with a source.
type AddOutcome string

const (
	OutcomeQueued        AddOutcome = "queued"
	OutcomeUpdated       AddOutcome = "updated"
	OutcomeAlreadyExists AddOutcome = "already_exists"
)

// Message returns the user-facing description of the outcome.
func (o AddOutcome) Message() string {
	switch o {
	case OutcomeUpdated:
		return "Document updated and queued for processing"
	case OutcomeAlreadyExists:
		return "Document with same content already exists"
	default:
		return "Document is queued for processing"
	}
}

// IndexLogService registers sources in the index log and serves the
// document API.
type IndexLogService struct {
	deps   Deps
	logger *slog.Logger
}

// NewIndexLogService creates the index log service.
func NewIndexLogService(deps Deps) *IndexLogService {
	return &IndexLogService{deps: deps, logger: deps.logger().With("component", "index_log")}
}

// EnqueueRequest is an add request as received from the API.
type EnqueueRequest struct {
	Source         string `json:"source"`
	SourceType     string `json:"source_type"`
	UserID         string `json:"user_id"`
	ProcessingType string `json:"processing_type,omitempty"`
}

// EnqueueResult is the API response to an add request.
type EnqueueResult struct {
	ID      string     `json:"id"`
	Message string     `json:"message"`
	Outcome AddOutcome `json:"outcome"`
}

// Enqueue validates an API request and registers the source.
func (s *IndexLogService) Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error) {
	st, err := models.ParseSourceType(req.SourceType)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	pt, err := models.ParseProcessingType(req.ProcessingType)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %s", ErrInvalidProcessingType, req.ProcessingType)
	}
	if strings.TrimSpace(req.Source) == "" {
		return EnqueueResult{}, fmt.Errorf("%w: source is required", ErrInvalidSource)
	}
	if st.IsFetchBased() {
		if err := validateURL(req.Source); err != nil {
			return EnqueueResult{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
	}
	userID := req.UserID
	if userID == "" {
		userID = "anonymous"
	}

	row, outcome, err := s.AddIndexLog(ctx, req.Source, st, userID, pt)
	if err != nil {
		return EnqueueResult{}, err
	}
	return EnqueueResult{ID: row.LogID(), Message: outcome.Message(), Outcome: outcome}, nil
}

// AddIndexLog registers a source for processing. Known content is not
// registered twice. A known source with changed content has its previously
// indexed chunks removed and is queued again.
func (s *IndexLogService) AddIndexLog(ctx context.Context, source string, sourceType models.SourceType, userID string, processingType models.ProcessingType) (*models.IndexLog, AddOutcome, error) {
	sum, err := checksum.ForSource(source, sourceType)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	if sum.Known() {
		existing, err := s.deps.DB.QueryFindIndexLogByChecksum(ctx, sum.Value())
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			s.record(OutcomeAlreadyExists)
			s.logger.Info("document already indexed", "index_log_id", existing.LogID(), "source", source)
			return existing, OutcomeAlreadyExists, nil
		}
	}

	existing, err := s.deps.DB.QueryFindIndexLogByIdentity(ctx, sourceType, s.identitySources(source, sourceType)...)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		row, err := s.reingest(ctx, existing, source, sourceType, sum, userID, processingType)
		if errors.Is(err, db.ErrAlreadyExists) {
			return s.winner(ctx, source, sourceType, sum)
		}
		if err != nil {
			return nil, "", err
		}
		s.record(OutcomeUpdated)
		return row, OutcomeUpdated, nil
	}

	row, err := s.deps.DB.QueryCreateIndexLog(ctx, db.NewIndexLog{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Source:         source,
		SourceType:     sourceType,
		Checksum:       sum,
		ProcessingType: processingType,
		CreatedBy:      userID,
	})
	if errors.Is(err, db.ErrAlreadyExists) {
		return s.winner(ctx, source, sourceType, sum)
	}
	if err != nil {
		return nil, "", err
	}
	s.record(OutcomeQueued)
	s.logger.Info("document queued", "index_log_id", row.LogID(), "source_type", sourceType, "source", source)
	return row, OutcomeQueued, nil
}

// identitySources lists the locations a source may be recorded under.
// Completed file rows point at the archive.
func (s *IndexLogService) identitySources(source string, sourceType models.SourceType) []string {
	sources := []string{source}
	if sourceType.IsFileBased() {
		archived := filepath.Join(s.deps.Config.ArchivePath, filepath.Base(source))
		if archived != source {
			sources = append(sources, archived)
		}
	}
	return sources
}

// reingest removes the indexed version of a row and queues the new content.
func (s *IndexLogService) reingest(ctx context.Context, existing *models.IndexLog, source string, sourceType models.SourceType, sum models.Checksum, userID string, processingType models.ProcessingType) (*models.IndexLog, error) {
	if err := s.removeIndexed(ctx, existing); err != nil {
		return nil, err
	}
	row, err := s.deps.DB.QueryUpdateForReingest(ctx, existing.LogID(), db.ReingestUpdate{
		Source:         source,
		SourceType:     sourceType,
		Checksum:       sum,
		ProcessingType: processingType,
		ModifiedBy:     userID,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("document content changed, queued again",
		"index_log_id", row.LogID(), "old_checksum", existing.Fingerprint().String(), "new_checksum", sum.String())
	return row, nil
}

// relocate points a row at a moved copy of its content and queues it again.
// Chunks indexed under the old source are removed first.
func (s *IndexLogService) relocate(ctx context.Context, existing *models.IndexLog, source string, sourceType models.SourceType) (*models.IndexLog, error) {
	if err := s.removeIndexed(ctx, existing); err != nil {
		return nil, err
	}
	return s.deps.DB.QueryUpdateForReingest(ctx, existing.LogID(), db.ReingestUpdate{
		Source:         source,
		SourceType:     sourceType,
		Checksum:       existing.Fingerprint(),
		ProcessingType: existing.ProcessingType,
		ModifiedBy:     models.SystemUser,
	})
}

// removeIndexed deletes the chunks and graph document of a row's current version.
func (s *IndexLogService) removeIndexed(ctx context.Context, row *models.IndexLog) error {
	if sum := row.Fingerprint(); sum.Known() {
		n, err := s.deps.Vectors.DeleteByIdentity(ctx, row.Source, row.SourceType, sum.Value())
		if err != nil {
			return fmt.Errorf("delete vector chunks: %w", err)
		}
		s.logger.Debug("deleted vector chunks", "index_log_id", row.LogID(), "count", n)
	}
	if s.deps.Graph != nil {
		if _, err := s.deps.Graph.RemoveDocument(ctx, row.GraphDocumentID()); err != nil {
			return fmt.Errorf("remove graph document: %w", err)
		}
	}
	return nil
}

// winner returns the row that won a concurrent registration of the same content.
func (s *IndexLogService) winner(ctx context.Context, source string, sourceType models.SourceType, sum models.Checksum) (*models.IndexLog, AddOutcome, error) {
	if sum.Known() {
		row, err := s.deps.DB.QueryFindIndexLogByChecksum(ctx, sum.Value())
		if err != nil {
			return nil, "", err
		}
		if row != nil {
			s.record(OutcomeAlreadyExists)
			return row, OutcomeAlreadyExists, nil
		}
	}
	row, err := s.deps.DB.QueryFindIndexLogByIdentity(ctx, sourceType, s.identitySources(source, sourceType)...)
	if err != nil {
		return nil, "", err
	}
	if row == nil {
		return nil, "", fmt.Errorf("register %s: %w", source, db.ErrAlreadyExists)
	}
	s.record(OutcomeAlreadyExists)
	return row, OutcomeAlreadyExists, nil
}

func (s *IndexLogService) record(o AddOutcome) {
	s.deps.Prom.Enqueued(string(o))
}

// GetByID returns a row or db.ErrNotFound.
func (s *IndexLogService) GetByID(ctx context.Context, id string) (*models.IndexLog, error) {
	row, err := s.deps.DB.QueryGetIndexLog(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("index log %s: %w", id, db.ErrNotFound)
	}
	return row, nil
}

// List returns a page of rows and the total number of matching rows.
func (s *IndexLogService) List(ctx context.Context, filter models.IndexLogFilter) ([]models.IndexLog, int, error) {
	return s.deps.DB.QueryListIndexLogs(ctx, filter.Normalize())
}

// QueueStats counts rows per status.
type QueueStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Failed     int `json:"failed"`
	Completed  int `json:"completed"`
}

// Outstanding is the number of rows a worker still has to pick up or finish.
func (q QueueStats) Outstanding() int {
	return q.Pending + q.InProgress
}

// QueueStats returns the number of rows in each status.
func (s *IndexLogService) QueueStats(ctx context.Context) (QueueStats, error) {
	var q QueueStats
	counts := map[models.Status]*int{
		models.StatusPending:    &q.Pending,
		models.StatusInProgress: &q.InProgress,
		models.StatusFailed:     &q.Failed,
		models.StatusCompleted:  &q.Completed,
	}
	for status, dst := range counts {
		_, total, err := s.deps.DB.QueryListIndexLogs(ctx, models.IndexLogFilter{Status: status, PageSize: 1}.Normalize())
		if err != nil {
			return QueueStats{}, fmt.Errorf("count %s: %w", status, err)
		}
		*dst = total
	}
	return q, nil
}

// DeleteByID removes a row together with its indexed chunks and graph document.
func (s *IndexLogService) DeleteByID(ctx context.Context, id string) error {
	row, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.removeIndexed(ctx, row); err != nil {
		return err
	}
	deleted, err := s.deps.DB.QueryDeleteIndexLog(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("index log %s: %w", id, db.ErrNotFound)
	}
	s.logger.Info("document deleted", "index_log_id", id, "source", row.Source)
	return nil
}

// Chunks returns a page of the stored chunks of a row, ordered by page and
// child index, and the total number of chunks.
func (s *IndexLogService) Chunks(ctx context.Context, id string, page, pageSize int) ([]models.Chunk, int, error) {
	row, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	sum := row.Fingerprint()
	if !sum.Known() {
		return []models.Chunk{}, 0, nil
	}

	chunks, err := s.deps.Vectors.SearchByMetadata(ctx, store.IdentityFilter(row.Source, row.SourceType, sum.Value()))
	if err != nil {
		return nil, 0, fmt.Errorf("search chunks: %w", err)
	}
	models.SortByPage(chunks)

	f := models.IndexLogFilter{Page: page, PageSize: pageSize}.Normalize()
	total := len(chunks)
	start := min(f.Offset(), total)
	end := min(start+f.PageSize, total)
	return chunks[start:end], total, nil
}
