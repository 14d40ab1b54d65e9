package cli

import (
	"context"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/docingest/internal/client"
	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/raphaelgruber/docingest/internal/service"
)

// documentAPI is what the document commands need. It is served by the local
// stores or, with --server, by a running docingest server.
type documentAPI interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (service.EnqueueResult, error)
	Upload(ctx context.Context, req service.UploadRequest) (service.EnqueueResult, error)
	GetByID(ctx context.Context, id string) (*models.IndexLog, error)
	List(ctx context.Context, filter models.IndexLogFilter) ([]models.IndexLog, int, error)
	DeleteByID(ctx context.Context, id string) error
	Chunks(ctx context.Context, id string, page, pageSize int) ([]models.Chunk, int, error)
	QueueStats(ctx context.Context) (service.QueueStats, error)
}

// remoteDocuments serves documentAPI through the HTTP client.
type remoteDocuments struct {
	c *client.Client
}

func (r remoteDocuments) Enqueue(ctx context.Context, req service.EnqueueRequest) (service.EnqueueResult, error) {
	res, err := r.c.Enqueue(ctx, client.EnqueueInput{
		Source:         req.Source,
		SourceType:     req.SourceType,
		UserID:         req.UserID,
		ProcessingType: req.ProcessingType,
	})
	if err != nil {
		return service.EnqueueResult{}, err
	}
	return fromClientResult(res), nil
}

func (r remoteDocuments) Upload(ctx context.Context, req service.UploadRequest) (service.EnqueueResult, error) {
	res, err := r.c.Upload(ctx, client.UploadInput{
		Filename:       req.Filename,
		Content:        req.Content,
		UserID:         req.UserID,
		ProcessingType: req.ProcessingType,
	})
	if err != nil {
		return service.EnqueueResult{}, err
	}
	return fromClientResult(res), nil
}

func (r remoteDocuments) GetByID(ctx context.Context, id string) (*models.IndexLog, error) {
	doc, err := r.c.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	row := fromClientDocument(*doc)
	return &row, nil
}

func (r remoteDocuments) List(ctx context.Context, f models.IndexLogFilter) ([]models.IndexLog, int, error) {
	page, err := r.c.ListDocuments(ctx, client.ListOptions{
		Source:      f.Source,
		SourceType:  string(f.SourceType),
		Status:      string(f.Status),
		CreatedBy:   f.CreatedBy,
		CreatedFrom: f.CreatedFrom,
		CreatedTo:   f.CreatedTo,
		Page:        f.Page,
		PageSize:    f.PageSize,
	})
	if err != nil {
		return nil, 0, err
	}
	rows := make([]models.IndexLog, 0, len(page.Items))
	for _, d := range page.Items {
		rows = append(rows, fromClientDocument(d))
	}
	return rows, page.Total, nil
}

func (r remoteDocuments) DeleteByID(ctx context.Context, id string) error {
	return r.c.DeleteDocument(ctx, id)
}

func (r remoteDocuments) Chunks(ctx context.Context, id string, page, pageSize int) ([]models.Chunk, int, error) {
	res, err := r.c.Chunks(ctx, id, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	chunks := make([]models.Chunk, 0, len(res.Items))
	for _, c := range res.Items {
		chunks = append(chunks, models.NewChunk(c.Content, c.Metadata))
	}
	return chunks, res.Total, nil
}

func (r remoteDocuments) QueueStats(ctx context.Context) (service.QueueStats, error) {
	stats, err := r.c.Queue(ctx)
	if err != nil {
		return service.QueueStats{}, err
	}
	return service.QueueStats{
		Pending:    stats.Pending,
		InProgress: stats.InProgress,
		Failed:     stats.Failed,
		Completed:  stats.Completed,
	}, nil
}

func fromClientResult(res *client.EnqueueResult) service.EnqueueResult {
	return service.EnqueueResult{ID: res.ID, Message: res.Message, Outcome: service.AddOutcome(res.Outcome)}
}

func fromClientDocument(d client.Document) models.IndexLog {
	return models.IndexLog{
		ID:             surrealmodels.NewRecordID("index_log", d.ID),
		Source:         d.Source,
		SourceType:     models.SourceType(d.SourceType),
		Checksum:       d.Checksum,
		Status:         models.Status(d.Status),
		ProcessingType: models.ProcessingType(d.ProcessingType),
		RetryCount:     d.RetryCount,
		ErrorMessage:   d.ErrorMessage,
		ClaimedBy:      d.ClaimedBy,
		CreatedAt:      d.CreatedAt,
		CreatedBy:      d.CreatedBy,
		ModifiedAt:     d.ModifiedAt,
		ModifiedBy:     d.ModifiedBy,
	}
}
