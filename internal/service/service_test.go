package service

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/docingest/internal/config"
	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/loader"
	"github.com/raphaelgruber/docingest/internal/lock"
	"github.com/raphaelgruber/docingest/internal/metrics"
	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/raphaelgruber/docingest/internal/store"
)

var testDB *db.Client

const testInstance = "test-worker"

// TestMain starts one SurrealDB container for the package.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = db.NewClient(ctx, db.Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "service",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testDB.InitSchema(ctx, 4); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

// =============================================================================
// Fakes
// =============================================================================

type memVectors struct {
	mu      sync.Mutex
	chunks  []models.Chunk
	deleted []string
	addErr  error
}

func identityString(source string, st models.SourceType, sum string) string {
	return source + "|" + string(st) + "|" + sum
}

func (m *memVectors) AddBatch(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memVectors) DeleteByIdentity(_ context.Context, source string, st models.SourceType, sum string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, identityString(source, st, sum))
	kept := m.chunks[:0]
	n := 0
	for _, c := range m.chunks {
		if identityString(c.String(models.MetaSource), models.SourceType(c.String(models.MetaSourceType)), c.String(models.MetaChecksum)) == identityString(source, st, sum) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.chunks = kept
	return n, nil
}

func (m *memVectors) SearchByMetadata(_ context.Context, filter store.Filter) ([]models.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Chunk
	for _, c := range m.chunks {
		ok := true
		for k, v := range filter {
			if fmt.Sprint(c.Metadata[k]) != fmt.Sprint(v) {
				ok = false
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memVectors) Close() error { return nil }

func (m *memVectors) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

type memGraph struct {
	mu      sync.Mutex
	docs    map[string]int
	removed []string
}

func (g *memGraph) AddDocument(_ context.Context, docID string, _ map[string]any, chunks []models.Chunk) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs[docID] = len(chunks)
	return nil
}

func (g *memGraph) RemoveDocument(_ context.Context, docID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.docs[docID]
	delete(g.docs, docID)
	if ok {
		g.removed = append(g.removed, docID)
	}
	return ok, nil
}

func (g *memGraph) FindRelatedChunks(context.Context, string, int) ([]models.Chunk, error) {
	return nil, nil
}

// staticLoader returns fixed content for any source.
type staticLoader struct {
	content string
	err     error
}

func (l staticLoader) Load(_ context.Context, source string) ([]models.Chunk, error) {
	if l.err != nil {
		return nil, l.err
	}
	return []models.Chunk{models.NewChunk(l.content, map[string]any{models.MetaTitle: source})}, nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	deps      Deps
	vectors   *memVectors
	graph     *memGraph
	logs      *IndexLogService
	processor *Processor
	intake    *Intake
	resetter  *StalledResetter
	scheduler *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	require.NoError(t, testDB.WipeData(context.Background()))

	root := t.TempDir()
	cfg := config.Config{
		InputPath:   filepath.Join(root, "input"),
		StagingPath: filepath.Join(root, "staging"),
		ArchivePath: filepath.Join(root, "archive"),
		Chunking: models.ChunkingConfig{
			ChunkSize: 120, ChunkOverlap: 10,
			ParentChunkSize: 200, ParentOverlap: 20,
			ChildChunkSize: 60, ChildOverlap: 5,
		},
		HierarchicalTypes:     []models.SourceType{models.SourceTypeText, models.SourceTypeKnowledgeSnippet},
		GraphEnabled:          true,
		VectorBatchSize:       2,
		EmbedWorkers:          2,
		TickUnit:              time.Minute,
		StalledThresholdUnits: 5,
		MaxRetries:            3,
		ClaimBatchSize:        20,
	}
	require.NoError(t, os.MkdirAll(cfg.InputPath, 0o755))

	factory := loader.NewEmptyFactory()
	factory.Register(models.SourceTypeText, loader.NewTextLoader(cfg.Chunking))
	factory.Register(models.SourceTypeKnowledgeSnippet, loader.NewSnippetLoader(cfg.Chunking))

	h := &harness{vectors: &memVectors{}, graph: &memGraph{docs: map[string]int{}}}
	h.deps = Deps{
		Config:    cfg,
		DB:        testDB,
		Loaders:   factory,
		Vectors:   h.vectors,
		Graph:     h.graph,
		Locker:    lock.NewLocker(testDB, testInstance, time.Minute, nil),
		Collector: metrics.NewCollector(),
		Prom:      metrics.NewPrometheus(prometheus.NewRegistry()),
	}

	var err error
	h.logs = NewIndexLogService(h.deps)
	h.processor, err = NewProcessor(h.deps)
	require.NoError(t, err)
	t.Cleanup(h.processor.Close)
	h.intake = NewIntake(h.deps, h.logs)
	h.resetter = NewStalledResetter(h.deps)
	h.scheduler = NewScheduler(h.deps, h.processor, h.intake, h.resetter)
	return h
}

func (h *harness) writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.deps.Config.InputPath, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (h *harness) get(t *testing.T, id string) *models.IndexLog {
	t.Helper()
	row, err := h.logs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return row
}

func longText(paragraphs int) string {
	var s string
	for i := range paragraphs {
		s += fmt.Sprintf("Paragraph %d talks about Acme Corp and the weather in some detail.\n\n", i)
	}
	return s
}

// =============================================================================
// Index log service
// =============================================================================

func TestAddIndexLogIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeInput(t, "a.txt", "hello world")

	first, outcome, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, models.StatusPending, first.Status)
	assert.Equal(t, "alice", first.CreatedBy)

	second, outcome, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "bob", models.ProcessingStandard)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, outcome)
	assert.Equal(t, first.LogID(), second.LogID())

	// Same bytes under another name are the same document.
	other := h.writeInput(t, "copy.txt", "hello world")
	_, outcome, err = h.logs.AddIndexLog(ctx, other, models.SourceTypeText, "bob", models.ProcessingStandard)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, outcome)

	_, total, err := h.logs.List(ctx, models.IndexLogFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestQueueStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stats, err := h.logs.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{}, stats)

	_, _, err = h.logs.AddIndexLog(ctx, h.writeInput(t, "a.txt", longText(2)), models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	_, _, err = h.logs.AddIndexLog(ctx, h.writeInput(t, "b.txt", longText(3)), models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)

	stats, err = h.logs.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Pending: 2}, stats)
	assert.Equal(t, 2, stats.Outstanding())

	_, err = h.processor.Drain(ctx)
	require.NoError(t, err)
	stats, err = h.logs.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Completed: 2}, stats)
	assert.Zero(t, stats.Outstanding())
}

func TestEnqueueValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.logs.Enqueue(ctx, EnqueueRequest{Source: "x", SourceType: "exe"})
	assert.ErrorIs(t, err, ErrUnsupportedSourceType)

	_, err = h.logs.Enqueue(ctx, EnqueueRequest{Source: "x", SourceType: "text", ProcessingType: "fancy"})
	assert.ErrorIs(t, err, ErrInvalidProcessingType)

	_, err = h.logs.Enqueue(ctx, EnqueueRequest{Source: " ", SourceType: "text"})
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = h.logs.Enqueue(ctx, EnqueueRequest{Source: "/does/not/exist.txt", SourceType: "text"})
	assert.ErrorIs(t, err, ErrInvalidSource)

	for _, src := range []string{"ftp://example.com/page", "example.com/page", "https://", "not a url"} {
		_, err = h.logs.Enqueue(ctx, EnqueueRequest{Source: src, SourceType: "web_page"})
		assert.ErrorIs(t, err, ErrInvalidSource, src)
	}
	_, err = h.logs.Enqueue(ctx, EnqueueRequest{Source: "file:///etc/passwd", SourceType: "confluence"})
	assert.ErrorIs(t, err, ErrInvalidSource)
	total, err := h.logs.QueueStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, total.Pending)

	res, err := h.logs.Enqueue(ctx, EnqueueRequest{
		Source:     `{"title":"Tip","content":"Use the staging bucket."}`,
		SourceType: "knowledge_snippet",
		UserID:     "carol",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)
	assert.Equal(t, "Document is queued for processing", res.Message)
	assert.NotEmpty(t, res.ID)
}

func TestUploadStagesAndRegisters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	staging := h.deps.Config.StagingPath

	res, err := h.logs.Upload(ctx, UploadRequest{
		Filename: "../../etc/My Report%20(final).txt",
		Content:  strings.NewReader("uploaded body"),
		UserID:   "dana",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, res.Outcome)

	staged := filepath.Join(staging, "My_Report_final_.txt")
	assert.FileExists(t, staged)
	row := h.get(t, res.ID)
	assert.Equal(t, staged, row.Source)
	assert.Equal(t, models.SourceTypeText, row.SourceType)
	assert.Equal(t, "dana", row.CreatedBy)

	// The same content under another name is not staged twice.
	again, err := h.logs.Upload(ctx, UploadRequest{Filename: "copy.txt", Content: strings.NewReader("uploaded body")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, again.Outcome)
	assert.Equal(t, res.ID, again.ID)
	assert.NoFileExists(t, filepath.Join(staging, "copy.txt"))

	_, err = h.logs.Upload(ctx, UploadRequest{Filename: "tool.exe", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrUnsupportedSourceType)
	_, err = h.logs.Upload(ctx, UploadRequest{Filename: "///", Content: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidSource)
	_, err = h.logs.Upload(ctx, UploadRequest{Filename: "a.txt", Content: strings.NewReader("x"), ProcessingType: "fancy"})
	assert.ErrorIs(t, err, ErrInvalidProcessingType)
	assert.NoFileExists(t, filepath.Join(staging, "a.txt"))

	res2, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Completed)
	assert.NoFileExists(t, staged)
	assert.FileExists(t, filepath.Join(h.deps.Config.ArchivePath, "My_Report_final_.txt"))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":          "report.pdf",
		"my file (1).docx":    "my_file_1_.docx",
		"%E2%9C%93 notes.txt": "notes.txt",
		`C:\Users\x\a b.csv`:  "a_b.csv",
		"../secret.json":      "secret.json",
		"__init__.txt":        "init_.txt",
		"..":                  "",
		"":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.logs.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, h.logs.DeleteByID(context.Background(), "missing"), db.ErrNotFound)
}

// A processed file whose content changes is re-registered: the chunks of the
// archived version are deleted before the row is queued again.
func TestContentChangeDeletesBeforeRequeue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeInput(t, "report.txt", "quarterly report v1")

	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	oldSum := *row.Checksum

	res, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Claimed: 1, Completed: 1}, res)

	archived := filepath.Join(h.deps.Config.ArchivePath, "report.txt")
	done := h.get(t, row.LogID())
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Equal(t, archived, done.Source)
	assert.FileExists(t, archived)
	assert.NoFileExists(t, path)
	require.Equal(t, 1, h.vectors.count())

	// New content arrives under the original name.
	h.writeInput(t, "report.txt", "quarterly report v2")
	updated, outcome, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "bob", models.ProcessingHierarchical)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, row.LogID(), updated.LogID())
	assert.Equal(t, models.StatusPending, updated.Status)
	assert.Equal(t, path, updated.Source)
	assert.Equal(t, models.ProcessingHierarchical, updated.ProcessingType)
	assert.Equal(t, "bob", updated.ModifiedBy)
	assert.NotEqual(t, oldSum, *updated.Checksum)

	assert.Contains(t, h.vectors.deleted, identityString(archived, models.SourceTypeText, oldSum))
	assert.Zero(t, h.vectors.count())
	assert.Contains(t, h.graph.removed, models.GraphDocumentID(row.LogID(), models.KnownChecksum(oldSum)))

	// The next drain indexes the new version and archives it over the old one.
	newSum := *updated.Checksum
	res, err = h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Claimed: 1, Completed: 1}, res)

	final := h.get(t, row.LogID())
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, archived, final.Source)
	assert.Equal(t, newSum, *final.Checksum)
	content, err := os.ReadFile(archived)
	require.NoError(t, err)
	assert.Equal(t, "quarterly report v2", string(content))
	assert.NoFileExists(t, path)

	stale, err := h.vectors.SearchByMetadata(ctx, store.Filter{models.MetaChecksum: oldSum})
	require.NoError(t, err)
	assert.Empty(t, stale)
	current, err := h.vectors.SearchByMetadata(ctx, store.IdentityFilter(archived, models.SourceTypeText, newSum))
	require.NoError(t, err)
	assert.NotEmpty(t, current)
	assert.Equal(t, len(current), h.vectors.count())
}

func TestDeleteByIDCascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeInput(t, "gone.txt", "short lived")

	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	_, err = h.processor.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.vectors.count())
	require.Len(t, h.graph.docs, 1)

	require.NoError(t, h.logs.DeleteByID(ctx, row.LogID()))
	assert.Zero(t, h.vectors.count())
	assert.Empty(t, h.graph.docs)
	_, err = h.logs.GetByID(ctx, row.LogID())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestChunksPaginatesInPageOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeInput(t, "long.txt", longText(12))

	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingHierarchical)
	require.NoError(t, err)
	_, err = h.processor.Drain(ctx)
	require.NoError(t, err)

	all, total, err := h.logs.Chunks(ctx, row.LogID(), 1, 100)
	require.NoError(t, err)
	require.Equal(t, h.vectors.count(), total)
	require.Greater(t, total, 3)
	assert.True(t, all[0].IsParent(), "first chunk is the first parent")
	for _, c := range all {
		assert.Equal(t, true, c.Metadata[models.MetaIsHierarchical])
	}

	page2, _, err := h.logs.Chunks(ctx, row.LogID(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, all[2].Content, page2[0].Content)

	beyond, _, err := h.logs.Chunks(ctx, row.LogID(), 99, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)
}

// =============================================================================
// Processor
// =============================================================================

func TestDrainWritesMetadata(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeInput(t, "notes.txt", longText(6))

	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	res, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)

	archived := filepath.Join(h.deps.Config.ArchivePath, "notes.txt")
	ids := map[string]bool{}
	for _, c := range h.vectors.chunks {
		assert.Equal(t, archived, c.Metadata[models.MetaSource])
		assert.Equal(t, "text", c.Metadata[models.MetaSourceType])
		assert.Equal(t, *row.Checksum, c.Metadata[models.MetaChecksum])
		assert.Equal(t, false, c.Metadata[models.MetaIsHierarchical])
		ids[c.String(models.MetaTrunkID)] = true
	}
	assert.Len(t, ids, len(h.vectors.chunks), "trunk ids are unique")
	assert.Equal(t, len(h.vectors.chunks), h.graph.docs[models.GraphDocumentID(row.LogID(), models.KnownChecksum(*row.Checksum))])
}

func TestDrainFailureMarksFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vectors.addErr = errors.New("vector store down")
	path := h.writeInput(t, "bad.txt", "will not store")

	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)

	res, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Claimed: 1, Failed: 1}, res)

	failed := h.get(t, row.LogID())
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "vector store down")
	assert.Equal(t, path, failed.Source, "failed files are not archived")
	assert.FileExists(t, path)

	// The row is retried on the next drain and succeeds once the store recovers.
	h.vectors.addErr = nil
	res, err = h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	done := h.get(t, row.LogID())
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Nil(t, done.ErrorMessage)
	assert.Equal(t, 1, done.RetryCount)
}

func TestDrainOneFailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deps.Loaders.Register(models.SourceTypeCSV, staticLoader{err: errors.New("corrupt csv")})

	bad := h.writeInput(t, "a.csv", "x,y")
	good := h.writeInput(t, "b.txt", "fine content")
	_, _, err := h.logs.AddIndexLog(ctx, bad, models.SourceTypeCSV, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	_, _, err = h.logs.AddIndexLog(ctx, good, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)

	res, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Claimed: 2, Completed: 1, Failed: 1}, res)
}

func TestDrainUnsupportedSourceType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := h.writeInput(t, "doc.json", `{"a":1}`)

	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeJSON, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	_, err = h.processor.Drain(ctx)
	require.NoError(t, err)

	failed := h.get(t, row.LogID())
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Contains(t, *failed.ErrorMessage, ErrUnsupportedSourceType.Error())
}

func TestDrainResolvesFetchedChecksum(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deps.Loaders.Register(models.SourceTypeWebPage, staticLoader{content: "same page body"})

	first, _, err := h.logs.AddIndexLog(ctx, "https://example.com/a", models.SourceTypeWebPage, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	assert.Nil(t, first.Checksum, "web checksums are pending until fetched")
	second, _, err := h.logs.AddIndexLog(ctx, "https://example.com/b", models.SourceTypeWebPage, "alice", models.ProcessingStandard)
	require.NoError(t, err)

	res, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Claimed: 2, Completed: 1, Failed: 1}, res)

	a, b := h.get(t, first.LogID()), h.get(t, second.LogID())
	require.NotNil(t, a.Checksum)
	assert.Equal(t, models.StatusCompleted, a.Status)
	assert.Equal(t, "https://example.com/a", a.Source, "web sources are not archived")
	assert.Equal(t, models.StatusFailed, b.Status)
	assert.Contains(t, *b.ErrorMessage, "duplicate content")
}

func TestDrainSkipsWhenNothingEligible(t *testing.T) {
	h := newHarness(t)
	res, err := h.processor.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainResult{}, res)
}

func TestStalledReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deps.Config.TickUnit = 200 * time.Millisecond
	h.deps.Config.StalledThresholdUnits = 1
	resetter := NewStalledResetter(h.deps)

	path := h.writeInput(t, "stuck.txt", "stuck")
	row, _, err := h.logs.AddIndexLog(ctx, path, models.SourceTypeText, "alice", models.ProcessingStandard)
	require.NoError(t, err)
	claimed, err := testDB.QueryClaimIndexLogs(ctx, "crashed-worker", 3, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Not stalled yet.
	n, err := resetter.Reset(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(300 * time.Millisecond)
	n, err = resetter.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reset := h.get(t, row.LogID())
	assert.Equal(t, models.StatusPending, reset.Status)
	assert.Equal(t, models.StalledResetMessage, *reset.ErrorMessage)
	assert.Nil(t, reset.ClaimedBy)

	// A second pass in the same window finds nothing to reset.
	n, err = resetter.Reset(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Claimed again and stuck again, the row is reset once more only after
	// another full window.
	claimed, err = testDB.QueryClaimIndexLogs(ctx, "second-worker", 3, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	n, err = resetter.Reset(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(300 * time.Millisecond)
	n, err = resetter.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, h.get(t, row.LogID()).RetryCount)
}

// =============================================================================
// Intake
// =============================================================================

func TestScanBranches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := h.deps.Config

	h.writeInput(t, "image.png", "not a document")
	first := h.writeInput(t, "first.txt", "first document")
	require.NoError(t, os.Mkdir(filepath.Join(cfg.InputPath, "nested"), 0o755))

	res, err := h.intake.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Registered: 1, Unsupported: 1}, res)

	// A second scan before processing finds the file already registered.
	res, err = h.intake.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Skipped: 1, Unsupported: 1}, res)

	_, err = h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.NoFileExists(t, first)

	// Identical content under a new name is a moved document.
	moved := h.writeInput(t, "renamed.txt", "first document")
	res, err = h.intake.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Moved)
	assert.NoFileExists(t, moved)
	staged := filepath.Join(cfg.StagingPath, "renamed.txt")
	assert.FileExists(t, staged)

	rows, _, err := h.logs.List(ctx, models.IndexLogFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, staged, rows[0].Source)
	assert.Equal(t, models.SystemUser, rows[0].ModifiedBy)
	assert.Equal(t, models.StatusPending, rows[0].Status)
	// Chunks indexed under the archived name are gone until the row is processed again.
	assert.Zero(t, h.vectors.count())

	// Dropping the file in again under its staged name leaves it in place.
	again := h.writeInput(t, "renamed.txt", "first document")
	res, err = h.intake.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Skipped: 1, Unsupported: 1}, res)
	assert.FileExists(t, again)

	// Processing the moved row indexes it under its new archive location.
	drained, err := h.processor.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Claimed: 1, Completed: 1}, drained)
	archived := filepath.Join(cfg.ArchivePath, "renamed.txt")
	assert.Equal(t, archived, h.get(t, rows[0].LogID()).Source)
	chunks, total, err := h.logs.Chunks(ctx, rows[0].LogID(), 1, 10)
	require.NoError(t, err)
	assert.Positive(t, total)
	for _, c := range chunks {
		assert.Equal(t, archived, c.String(models.MetaSource))
	}
}

func TestWatchTriggersScan(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	triggered := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.intake.Watch(ctx, func(context.Context) { triggered <- struct{}{} })
	}()

	time.Sleep(100 * time.Millisecond)
	h.writeInput(t, "one.txt", "1")
	h.writeInput(t, "two.txt", "2")

	select {
	case <-triggered:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not trigger")
	}
	select {
	case <-triggered:
		t.Fatal("burst of events triggered more than once")
	case <-time.After(500 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}

// =============================================================================
// Scheduler
// =============================================================================

func TestSchedulerRunOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.writeInput(t, "queued.txt", "scheduled content")

	ran, err := h.scheduler.RunOnce(ctx, JobScanInput)
	require.NoError(t, err)
	assert.True(t, ran)
	ran, err = h.scheduler.RunOnce(ctx, JobProcessPending)
	require.NoError(t, err)
	assert.True(t, ran)

	rows, _, err := h.logs.List(ctx, models.IndexLogFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = h.scheduler.RunOnce(ctx, "nope")
	assert.Error(t, err)
}

func TestSchedulerSkipsWhenLockedElsewhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ok, err := testDB.QueryAcquireLock(ctx, JobProcessPending, "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ran, err := h.scheduler.RunOnce(ctx, JobProcessPending)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestSchedulerStartStop(t *testing.T) {
	h := newHarness(t)
	h.writeInput(t, "auto.txt", "picked up by the loop")

	require.NoError(t, h.scheduler.Start(context.Background()))
	require.Eventually(t, func() bool {
		rows, _, err := h.logs.List(context.Background(), models.IndexLogFilter{})
		return err == nil && len(rows) == 1
	}, 10*time.Second, 100*time.Millisecond)
	h.scheduler.Stop()
	h.scheduler.Stop()
}
