package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
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

// stubDocs answers both the CLI and the HTTP server from memory.
type stubDocs struct {
	mu         sync.Mutex
	rows       map[string]*models.IndexLog
	lastFilter models.IndexLogFilter
	uploaded   string
	queue      []service.QueueStats
	polls      int
}

func newStubDocs() *stubDocs {
	msg := "fetch: 404"
	return &stubDocs{rows: map[string]*models.IndexLog{
		"doc-1": {
			ID:             surrealmodels.NewRecordID("index_log", "doc-1"),
			Source:         "/data/archive/a.pdf",
			SourceType:     models.SourceTypePDF,
			Status:         models.StatusCompleted,
			ProcessingType: models.ProcessingHierarchical,
			CreatedBy:      "system",
		},
		"doc-2": {
			ID:           surrealmodels.NewRecordID("index_log", "doc-2"),
			Source:       "https://example.com/gone",
			SourceType:   models.SourceTypeWebPage,
			Status:       models.StatusFailed,
			RetryCount:   4,
			ErrorMessage: &msg,
		},
		"doc-3": {
			ID:         surrealmodels.NewRecordID("index_log", "doc-3"),
			Source:     "https://example.com/flaky",
			SourceType: models.SourceTypeWebPage,
			Status:     models.StatusFailed,
			RetryCount: 1,
		},
	}}
}

func (s *stubDocs) Enqueue(context.Context, service.EnqueueRequest) (service.EnqueueResult, error) {
	return service.EnqueueResult{ID: "doc-9", Outcome: service.OutcomeQueued, Message: service.OutcomeQueued.Message()}, nil
}

func (s *stubDocs) Upload(_ context.Context, req service.UploadRequest) (service.EnqueueResult, error) {
	body, err := io.ReadAll(req.Content)
	if err != nil {
		return service.EnqueueResult{}, err
	}
	s.mu.Lock()
	s.uploaded = req.Filename + ":" + string(body)
	s.mu.Unlock()
	return service.EnqueueResult{ID: "doc-10", Outcome: service.OutcomeQueued, Message: service.OutcomeQueued.Message()}, nil
}

func (s *stubDocs) GetByID(_ context.Context, id string) (*models.IndexLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return row, nil
}

func (s *stubDocs) List(_ context.Context, f models.IndexLogFilter) ([]models.IndexLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = f
	return []models.IndexLog{*s.rows["doc-1"]}, 7, nil
}

func (s *stubDocs) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return db.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *stubDocs) Chunks(_ context.Context, id string, page, pageSize int) ([]models.Chunk, int, error) {
	return []models.Chunk{models.NewChunk("child text", map[string]any{
		models.MetaPageNumber: 2,
		models.MetaChildIndex: 1,
	})}, 1, nil
}

func (s *stubDocs) QueueStats(context.Context) (service.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return service.QueueStats{}, nil
	}
	i := min(s.polls, len(s.queue)-1)
	s.polls++
	return s.queue[i], nil
}

func (s *stubDocs) setQueue(q ...service.QueueStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue, s.polls = q, 0
}

func (s *stubDocs) seen() (models.IndexLogFilter, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFilter, s.uploaded
}

func remoteSetup(t *testing.T) (*client.Client, *stubDocs) {
	t.Helper()
	stub := newStubDocs()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := httptest.NewServer(server.New(stub, server.Options{WatchInterval: 5 * time.Millisecond}, logger).Handler())
	t.Cleanup(ts.Close)
	return client.New(ts.URL), stub
}

func TestRemoteDocuments(t *testing.T) {
	c, stub := remoteSetup(t)
	api := remoteDocuments{c: c}
	ctx := context.Background()

	row, err := api.GetByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", row.LogID())
	assert.Equal(t, models.SourceTypePDF, row.SourceType)
	assert.Equal(t, models.StatusCompleted, row.Status)
	assert.True(t, row.IsHierarchical())

	_, err = api.GetByID(ctx, "missing")
	assert.True(t, client.IsNotFound(err))

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows, total, err := api.List(ctx, models.IndexLogFilter{Status: models.StatusFailed, CreatedFrom: &from, Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 7, total)
	filter, _ := stub.seen()
	assert.Equal(t, models.StatusFailed, filter.Status)
	require.NotNil(t, filter.CreatedFrom)
	assert.True(t, from.Equal(*filter.CreatedFrom))
	assert.Equal(t, 2, filter.Page)

	chunks, total, err := api.Chunks(ctx, "doc-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	var buf bytes.Buffer
	printChunk(&buf, chunks[0])
	assert.Equal(t, "- [page 2 child 1] child text\n", buf.String())

	res, err := api.Upload(ctx, service.UploadRequest{Filename: "notes.txt", Content: strings.NewReader("hello")})
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeQueued, res.Outcome)
	_, uploaded := stub.seen()
	assert.Equal(t, "notes.txt:hello", uploaded)

	res, err = api.Enqueue(ctx, service.EnqueueRequest{Source: "https://example.com", SourceType: "web_page"})
	require.NoError(t, err)
	assert.Equal(t, "doc-9", res.ID)

	require.NoError(t, api.DeleteByID(ctx, "doc-1"))
	assert.True(t, client.IsNotFound(api.DeleteByID(ctx, "doc-1")))

	stub.setQueue(service.QueueStats{Pending: 2, InProgress: 1, Failed: 4})
	stats, err := api.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Outstanding())
	assert.Equal(t, 4, stats.Failed)
}

func TestDocumentsStatusThroughServer(t *testing.T) {
	c, _ := remoteSetup(t)
	fetch := documentsStatus(remoteDocuments{c: c}, []string{"doc-1", "doc-2", "doc-3"}, 3)

	s, err := fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Completed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Outstanding, "a failed row with retries left is still outstanding")
	assert.Equal(t, []string{"https://example.com/gone: fetch: 404"}, s.Failures)
}

func TestWatchedQueueStream(t *testing.T) {
	c, stub := remoteSetup(t)
	stub.setQueue(
		service.QueueStats{Pending: 2, InProgress: 1},
		service.QueueStats{Pending: 1, InProgress: 1, Completed: 1},
		service.QueueStats{Completed: 3},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, printStatus(ctx, &buf, watched(c)))
	assert.Equal(t, "3 outstanding, 0 completed, 0 failed\n2 outstanding, 0 completed, 0 failed\n0 outstanding, 0 completed, 0 failed\n", buf.String())
}

func TestLocalOnly(t *testing.T) {
	assert.True(t, localOnly(jobsRunCmd))
	assert.True(t, localOnly(locksCmd))
	assert.False(t, localOnly(listCmd))
	assert.False(t, localOnly(waitCmd))
}

func TestUploadPath(t *testing.T) {
	t.Cleanup(func() {
		remote = nil
		addType = string(models.SourceTypeWebPage)
	})
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("body"), 0o644))

	addType = "text"
	_, ok := uploadPath(path)
	assert.False(t, ok, "local mode registers by path")

	remote = client.New("http://localhost:1")
	got, ok := uploadPath(path)
	assert.True(t, ok)
	assert.Equal(t, path, got)

	_, ok = uploadPath(filepath.Join(t.TempDir(), "missing.txt"))
	assert.False(t, ok, "a path only the server knows is sent as is")

	addType = "web_page"
	_, ok = uploadPath(path)
	assert.False(t, ok)
}
