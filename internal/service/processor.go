package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/raphaelgruber/docingest/internal/checksum"
	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/loader"
	"github.com/raphaelgruber/docingest/internal/metrics"
	"github.com/raphaelgruber/docingest/internal/models"
)

// DrainResult summarizes one drain of the pending queue.
type DrainResult struct {
	Claimed   int
	Completed int
	Failed    int
}

// Processor claims eligible index log rows and runs them through the
// load, embed and store pipeline.
type Processor struct {
	deps   Deps
	pool   *ants.Pool
	logger *slog.Logger
}

// NewProcessor creates a processor with a worker pool for vector batches.
// Call Close to release the pool.
func NewProcessor(deps Deps) (*Processor, error) {
	size := deps.Config.EmbedWorkers
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &Processor{deps: deps, pool: pool, logger: deps.logger().With("component", "processor")}, nil
}

// Close releases the worker pool.
func (p *Processor) Close() {
	p.pool.Release()
}

// Drain claims up to ClaimBatchSize eligible rows and processes them in order.
// A failing document is marked failed and does not stop the batch. Losing
// the claim race to another worker yields an empty result.
func (p *Processor) Drain(ctx context.Context) (DrainResult, error) {
	cfg := p.deps.Config
	rows, err := p.deps.DB.QueryClaimIndexLogs(ctx, p.deps.Locker.Instance(), cfg.MaxRetries, cfg.ClaimBatchSize)
	if errors.Is(err, db.ErrTransactionConflict) {
		p.deps.Prom.ClaimConflict()
		p.logger.Debug("claim lost to another worker, skipping tick")
		return DrainResult{}, nil
	}
	if err != nil {
		return DrainResult{}, fmt.Errorf("claim pending documents: %w", err)
	}

	result := DrainResult{Claimed: len(rows)}
	if len(rows) > 0 {
		p.logger.Info("claimed documents", "count", len(rows))
	}

	for i := range rows {
		row := &rows[i]
		if err := ctx.Err(); err != nil {
			// Unprocessed claims stay in_progress until the stalled reset.
			return result, err
		}

		ok, err := p.deps.DB.QueryTouchIndexLog(ctx, row.LogID(), p.deps.Locker.Instance())
		if err != nil {
			return result, err
		}
		if !ok {
			p.logger.Warn("claim no longer held, skipping", "index_log_id", row.LogID())
			continue
		}

		start := time.Now()
		err = p.process(ctx, row)
		if err != nil && ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(err, errClaimLost) {
			p.logger.Warn("claim lost while processing, leaving row to its new owner", "index_log_id", row.LogID())
			continue
		}
		if err != nil {
			result.Failed++
			p.deps.Prom.DocumentProcessed("failed", time.Since(start))
			p.logger.Error("document processing failed",
				"index_log_id", row.LogID(), "source", row.Source, "retry_count", row.RetryCount+1, "error", err)
			marked, markErr := p.deps.DB.QueryMarkFailed(ctx, row.LogID(), p.deps.Locker.Instance(), err.Error())
			if markErr != nil {
				return result, markErr
			}
			if !marked {
				p.logger.Warn("claim lost before recording failure", "index_log_id", row.LogID())
			}
			continue
		}
		result.Completed++
		p.deps.Prom.DocumentProcessed("completed", time.Since(start))
	}
	return result, nil
}

// process runs the pipeline for one row, archives file sources and marks
// the row completed.
func (p *Processor) process(ctx context.Context, row *models.IndexLog) error {
	finalSource, err := p.processDocument(ctx, row)
	if err != nil {
		return err
	}
	if row.SourceType.IsFileBased() && finalSource != row.Source {
		if err := archiveFile(row.Source, finalSource); err != nil {
			return fmt.Errorf("archive %s: %w", row.Source, err)
		}
	}
	marked, err := p.deps.DB.QueryMarkCompleted(ctx, row.LogID(), p.deps.Locker.Instance(), finalSource)
	if err != nil {
		return err
	}
	if !marked {
		return errClaimLost
	}
	p.logger.Info("document processed", "index_log_id", row.LogID(), "source", finalSource)
	return nil
}

// processDocument loads a row's source and writes its chunks to the vector
// store and, when enabled, the graph. Returns the final source location.
func (p *Processor) processDocument(ctx context.Context, row *models.IndexLog) (string, error) {
	cfg := p.deps.Config
	log := p.logger.With("index_log_id", row.LogID(), "source_type", row.SourceType)

	l, err := p.deps.Loaders.Get(row.SourceType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedSourceType, err)
	}

	hierarchical := row.IsHierarchical() && loader.SupportsHierarchy(l) && cfg.HierarchicalEnabled(row.SourceType)
	var chunks []models.Chunk
	err = p.deps.Collector.Time(metrics.OpLoad, func() error {
		var loadErr error
		if hierarchical {
			chunks, loadErr = l.(loader.Hierarchical).LoadHierarchical(ctx, row.Source)
		} else {
			chunks, loadErr = l.Load(ctx, row.Source)
		}
		return loadErr
	})
	if err != nil {
		return "", fmt.Errorf("load: %w", err)
	}
	if len(chunks) == 0 {
		return "", loader.ErrEmptyContent
	}
	log.Debug("document loaded", "chunks", len(chunks), "hierarchical", hierarchical)

	sum, err := p.resolveChecksum(ctx, row, chunks)
	if err != nil {
		return "", err
	}

	finalSource := row.Source
	if row.SourceType.IsFileBased() {
		finalSource = archivePath(cfg.ArchivePath, row.Source)
	}

	for i := range chunks {
		md := chunks[i].Metadata
		if md == nil {
			md = map[string]any{}
			chunks[i].Metadata = md
		}
		md[models.MetaSource] = finalSource
		md[models.MetaSourceType] = string(row.SourceType)
		md[models.MetaChecksum] = sum.Value()
		md[models.MetaTrunkID] = uuid.Must(uuid.NewV7()).String()
		md[models.MetaIsHierarchical] = hierarchical
	}

	// A retried document may have written part of its chunks before failing.
	if _, err := p.deps.Vectors.DeleteByIdentity(ctx, finalSource, row.SourceType, sum.Value()); err != nil {
		return "", fmt.Errorf("clear previous chunks: %w", err)
	}
	err = p.deps.Collector.Time(metrics.OpVectorWrite, func() error {
		return p.writeVectors(ctx, chunks)
	})
	if err != nil {
		return "", err
	}
	p.deps.Prom.ChunksWritten(len(chunks))

	if p.deps.Graph != nil {
		docID := models.GraphDocumentID(row.LogID(), sum)
		err = p.deps.Collector.Time(metrics.OpGraphWrite, func() error {
			if _, err := p.deps.Graph.RemoveDocument(ctx, docID); err != nil {
				return err
			}
			return p.deps.Graph.AddDocument(ctx, docID, map[string]any{
				"index_log_id":        row.LogID(),
				models.MetaSource:     finalSource,
				models.MetaSourceType: string(row.SourceType),
				models.MetaChecksum:   sum.Value(),
				models.MetaTitle:      chunks[0].String(models.MetaTitle),
			}, chunks)
		})
		if err != nil {
			return "", fmt.Errorf("graph write: %w", err)
		}
	}

	log.Debug("document stored", "chunks", len(chunks), "graph", p.deps.Graph != nil)
	return finalSource, nil
}

// resolveChecksum computes the checksum of fetched content and persists it
// when it differs from the stored one.
func (p *Processor) resolveChecksum(ctx context.Context, row *models.IndexLog, chunks []models.Chunk) (models.Checksum, error) {
	sum := row.Fingerprint()
	switch row.SourceType {
	case models.SourceTypeWebPage:
		sum = checksum.Bytes([]byte(chunks[0].Content))
	case models.SourceTypeConfluence:
		pages, err := checksum.Pages(chunks)
		if err != nil {
			return models.Checksum{}, err
		}
		sum = pages
	case models.SourceTypeKnowledgeSnippet:
		sum = checksum.Snippet(row.Source)
	}
	if !sum.Known() {
		return models.Checksum{}, fmt.Errorf("no checksum for %s source", row.SourceType)
	}

	if row.Checksum == nil || *row.Checksum != sum.Value() {
		err := p.deps.DB.QueryUpdateChecksum(ctx, row.LogID(), sum.Value())
		if errors.Is(err, db.ErrAlreadyExists) {
			return models.Checksum{}, fmt.Errorf("duplicate content: another document has checksum %s", sum.Value())
		}
		if err != nil {
			return models.Checksum{}, err
		}
		row.Checksum = sum.Ptr()
	}
	return sum, nil
}

// writeVectors submits chunk batches to the worker pool. The first error
// cancels the remaining batches and is returned.
func (p *Processor) writeVectors(ctx context.Context, chunks []models.Chunk) error {
	size := p.deps.Config.VectorBatchSize
	if size < 1 {
		size = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(chunks); start += size {
		batch := chunks[start:min(start+size, len(chunks))]
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := p.deps.Vectors.AddBatch(ctx, batch); err != nil {
				fail(fmt.Errorf("vector write: %w", err))
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit vector batch: %w", err))
			break
		}
	}
	wg.Wait()
	return firstErr
}
