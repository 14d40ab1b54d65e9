package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/raphaelgruber/docingest/internal/checksum"
	"github.com/raphaelgruber/docingest/internal/models"
)

// watchDebounce is how long the watcher waits for a burst of file events to
// settle before triggering a scan.
const watchDebounce = 2 * time.Second

// ScanResult summarizes one scan of the input directory.
type ScanResult struct {
	Registered  int
	Moved       int
	Skipped     int
	Unsupported int
}

// Intake discovers files in the input directory and registers them in the
// index log.
type Intake struct {
	deps   Deps
	logs   *IndexLogService
	logger *slog.Logger
}

// NewIntake creates the input directory scanner.
func NewIntake(deps Deps, logs *IndexLogService) *Intake {
	return &Intake{deps: deps, logs: logs, logger: deps.logger().With("component", "intake")}
}

// Scan registers every supported file directly inside the input directory.
// Files whose content is already indexed under the staging or archive
// location are left alone. Known content found under a new name is moved to
// staging, and the row is pointed at it and queued again so its chunks carry
// the new source.
func (in *Intake) Scan(ctx context.Context) (ScanResult, error) {
	cfg := in.deps.Config
	var result ScanResult

	if err := os.MkdirAll(cfg.InputPath, 0o755); err != nil {
		return result, fmt.Errorf("create input dir: %w", err)
	}
	entries, err := os.ReadDir(cfg.InputPath)
	if err != nil {
		return result, fmt.Errorf("read input dir: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		path := filepath.Join(cfg.InputPath, name)
		log := in.logger.With("file", path)

		st, ok := models.SourceTypeForExtension(strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")))
		if !ok {
			log.Warn("unsupported file type, skipping")
			result.Unsupported++
			continue
		}

		sum, err := checksum.File(path)
		if err != nil {
			log.Warn("failed to checksum file", "error", err)
			continue
		}

		existing, err := in.deps.DB.QueryFindIndexLogByChecksum(ctx, sum.Value())
		if err != nil {
			return result, err
		}

		staged := filepath.Join(cfg.StagingPath, name)
		switch {
		case existing != nil && existing.SourceType == st &&
			(existing.Source == path || existing.Source == staged || existing.Source == archivePath(cfg.ArchivePath, name)):
			log.Debug("file already registered", "index_log_id", existing.LogID())
			result.Skipped++

		case existing != nil:
			if err := moveFile(path, staged); err != nil {
				log.Error("failed to stage moved document", "error", err)
				continue
			}
			if _, err := in.logs.relocate(ctx, existing, staged, st); err != nil {
				return result, err
			}
			log.Info("document moved, queued again", "index_log_id", existing.LogID(), "old_source", existing.Source, "new_source", staged)
			result.Moved++

		default:
			row, outcome, err := in.logs.AddIndexLog(ctx, path, st, models.SystemUser, models.ProcessingStandard)
			if err != nil {
				log.Error("failed to register file", "error", err)
				continue
			}
			log.Info("file registered", "index_log_id", row.LogID(), "outcome", outcome)
			result.Registered++
		}
	}
	return result, nil
}

// Watch calls onChange when files are created or written in the input
// directory, at most once per debounce window. It blocks until ctx is done.
func (in *Intake) Watch(ctx context.Context, onChange func(context.Context)) error {
	if err := os.MkdirAll(in.deps.Config.InputPath, 0o755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(in.deps.Config.InputPath); err != nil {
		return fmt.Errorf("watch %s: %w", in.deps.Config.InputPath, err)
	}
	in.logger.Info("watching input directory", "path", in.deps.Config.InputPath)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn("watcher error", "error", err)
		case <-fire:
			onChange(ctx)
		}
	}
}
