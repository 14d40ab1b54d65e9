package client_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/docingest/internal/client"
	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/raphaelgruber/docingest/internal/server"
	"github.com/raphaelgruber/docingest/internal/service"
)

// memAPI is an in-memory document API behind a real server.
type memAPI struct {
	mu         sync.Mutex
	rows       map[string]*models.IndexLog
	lastFilter models.IndexLogFilter
	queue      []service.QueueStats
	polls      int
}

func (m *memAPI) Enqueue(_ context.Context, req service.EnqueueRequest) (service.EnqueueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.SourceType == "exe" {
		return service.EnqueueResult{}, fmt.Errorf("%w: exe", service.ErrUnsupportedSourceType)
	}
	id := fmt.Sprintf("doc-%d", len(m.rows)+1)
	m.rows[id] = &models.IndexLog{
		ID:         surrealmodels.NewRecordID("index_log", id),
		Source:     req.Source,
		SourceType: models.SourceType(req.SourceType),
		Status:     models.StatusPending,
		CreatedBy:  req.UserID,
	}
	return service.EnqueueResult{ID: id, Outcome: service.OutcomeQueued, Message: service.OutcomeQueued.Message()}, nil
}

func (m *memAPI) Upload(_ context.Context, req service.UploadRequest) (service.EnqueueResult, error) {
	body, err := io.ReadAll(req.Content)
	if err != nil {
		return service.EnqueueResult{}, err
	}
	if service.SanitizeFilename(req.Filename) == "" {
		return service.EnqueueResult{}, fmt.Errorf("%w: file name is required", service.ErrInvalidSource)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("doc-%d", len(m.rows)+1)
	m.rows[id] = &models.IndexLog{
		ID:             surrealmodels.NewRecordID("index_log", id),
		Source:         "/staging/" + req.Filename,
		SourceType:     models.SourceTypeText,
		Status:         models.StatusPending,
		ProcessingType: models.ProcessingType(req.ProcessingType),
		CreatedBy:      req.UserID,
		ModifiedBy:     string(body),
	}
	return service.EnqueueResult{ID: id, Outcome: service.OutcomeQueued, Message: service.OutcomeQueued.Message()}, nil
}

func (m *memAPI) GetByID(_ context.Context, id string) (*models.IndexLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return row, nil
}

func (m *memAPI) List(_ context.Context, f models.IndexLogFilter) ([]models.IndexLog, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = f
	out := make([]models.IndexLog, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, *row)
	}
	return out, len(out), nil
}

func (m *memAPI) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memAPI) Chunks(_ context.Context, id string, page, pageSize int) ([]models.Chunk, int, error) {
	if _, err := m.GetByID(context.Background(), id); err != nil {
		return nil, 0, err
	}
	return []models.Chunk{models.NewChunk("hello", map[string]any{models.MetaPageNumber: 1})}, 1, nil
}

func (m *memAPI) QueueStats(context.Context) (service.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return service.QueueStats{}, nil
	}
	i := min(m.polls, len(m.queue)-1)
	m.polls++
	return m.queue[i], nil
}

func setup(t *testing.T, health func(context.Context) error) (*client.Client, *memAPI) {
	t.Helper()
	api := &memAPI{rows: map[string]*models.IndexLog{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(api, server.Options{Health: health, WatchInterval: 5 * time.Millisecond}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return client.New(ts.URL), api
}

func TestDocumentLifecycle(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()

	res, err := c.Enqueue(ctx, client.EnqueueInput{Source: "https://example.com", SourceType: "web_page", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.ID)
	assert.Equal(t, "queued", res.Outcome)

	doc, err := c.GetDocument(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", doc.Source)
	assert.Equal(t, "web_page", doc.SourceType)
	assert.Equal(t, "pending", doc.Status)
	assert.Equal(t, "alice", doc.CreatedBy)

	chunks, err := c.Chunks(ctx, res.ID, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, chunks.Total)
	require.Len(t, chunks.Items, 1)
	assert.Equal(t, "hello", chunks.Items[0].Content)

	require.NoError(t, c.DeleteDocument(ctx, res.ID))
	_, err = c.GetDocument(ctx, res.ID)
	assert.True(t, client.IsNotFound(err))
	assert.True(t, client.IsNotFound(c.DeleteDocument(ctx, res.ID)))
}

func TestUploadSendsFile(t *testing.T) {
	c, _ := setup(t, nil)
	ctx := context.Background()

	res, err := c.Upload(ctx, client.UploadInput{
		Filename:       "minutes.txt",
		Content:        strings.NewReader("meeting minutes"),
		UserID:         "bob",
		ProcessingType: "hierarchical",
	})
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Outcome)

	doc, err := c.GetDocument(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "/staging/minutes.txt", doc.Source)
	assert.Equal(t, "bob", doc.CreatedBy)
	assert.Equal(t, "hierarchical", doc.ProcessingType)
	assert.Equal(t, "meeting minutes", doc.ModifiedBy)

	_, err = c.Upload(ctx, client.UploadInput{Filename: "..", Content: strings.NewReader("x")})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
}

func TestEnqueueRejected(t *testing.T) {
	c, _ := setup(t, nil)

	_, err := c.Enqueue(context.Background(), client.EnqueueInput{Source: "x", SourceType: "exe"})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, "unsupported source type: exe", apiErr.Message)
	assert.False(t, client.IsNotFound(err))
}

func TestListDocumentsSendsOptions(t *testing.T) {
	c, api := setup(t, nil)
	ctx := context.Background()
	_, err := c.Enqueue(ctx, client.EnqueueInput{Source: "a", SourceType: "text"})
	require.NoError(t, err)

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.ListDocuments(ctx, client.ListOptions{
		Source:      "a",
		SourceType:  "text",
		Status:      "pending",
		CreatedFrom: &from,
		Page:        2,
		PageSize:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.PageSize)

	assert.Equal(t, "a", api.lastFilter.Source)
	assert.Equal(t, models.SourceTypeText, api.lastFilter.SourceType)
	assert.Equal(t, models.StatusPending, api.lastFilter.Status)
	require.NotNil(t, api.lastFilter.CreatedFrom)
	assert.True(t, from.Equal(*api.lastFilter.CreatedFrom))
}

func TestHealth(t *testing.T) {
	c, _ := setup(t, nil)
	assert.NoError(t, c.Health(context.Background()))

	down, _ := setup(t, func(context.Context) error { return errors.New("db down") })
	err := down.Health(context.Background())
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 503, apiErr.StatusCode)
}

func TestWatchQueue(t *testing.T) {
	c, api := setup(t, nil)
	api.queue = []service.QueueStats{{Pending: 2}, {Pending: 1, InProgress: 1}, {Completed: 2}}

	stop := errors.New("stop")
	var seen []client.QueueStats
	err := c.WatchQueue(context.Background(), func(s client.QueueStats) error {
		seen = append(seen, s)
		if s.Pending+s.InProgress == 0 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []client.QueueStats{{Pending: 2}, {Pending: 1, InProgress: 1}, {Completed: 2}}, seen)

	stats, err := c.Queue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Completed)
}

func TestWatchQueueCanceled(t *testing.T) {
	c, _ := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := c.WatchQueue(ctx, func(client.QueueStats) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
