package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raphaelgruber/docingest/internal/metrics"
)

// Scheduled job names. Each also names the distributed lock guarding it.
const (
	JobProcessPending = "process_pending_documents"
	JobScanInput      = "scan_input_directory"
	JobResetStalled   = "reset_stalled_documents"
)

// Job intervals in tick units.
const (
	processPendingUnits = 1
	scanInputUnits      = 1
	resetStalledUnits   = 3
)

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
	running  atomic.Bool
}

// Scheduler runs the periodic jobs. Every job is guarded locally against
// overlapping runs and across instances by a distributed lock.
type Scheduler struct {
	deps   Deps
	intake *Intake
	tasks  map[string]*task
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler wires the processor, intake and resetter into scheduled jobs.
func NewScheduler(deps Deps, processor *Processor, intake *Intake, resetter *StalledResetter) *Scheduler {
	s := &Scheduler{
		deps:   deps,
		intake: intake,
		tasks:  map[string]*task{},
		logger: deps.logger().With("component", "scheduler"),
	}
	unit := deps.Config.TickUnit

	s.add(JobProcessPending, processPendingUnits*unit, func(ctx context.Context) error {
		return deps.Collector.Time(metrics.OpDrain, func() error {
			res, err := processor.Drain(ctx)
			if res.Claimed > 0 {
				s.logger.Info("drain finished", "claimed", res.Claimed, "completed", res.Completed, "failed", res.Failed)
			}
			return err
		})
	})
	s.add(JobScanInput, scanInputUnits*unit, func(ctx context.Context) error {
		return deps.Collector.Time(metrics.OpScan, func() error {
			res, err := intake.Scan(ctx)
			if res.Registered+res.Moved > 0 {
				s.logger.Info("scan finished", "registered", res.Registered, "moved", res.Moved, "skipped", res.Skipped)
			}
			return err
		})
	})
	s.add(JobResetStalled, resetStalledUnits*unit, func(ctx context.Context) error {
		return deps.Collector.Time(metrics.OpStalled, func() error {
			n, err := resetter.Reset(ctx)
			if n > 0 {
				s.logger.Warn("stalled documents reset", "count", n)
			}
			return err
		})
	})
	return s
}

func (s *Scheduler) add(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.tasks[name] = &task{name: name, interval: interval, run: run}
}

// Start launches one goroutine per job and returns. Jobs run once right
// away and then on every interval until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}

	if s.deps.Config.WatchInput {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.intake.Watch(ctx, func(ctx context.Context) {
				s.tick(ctx, s.tasks[JobScanInput])
			})
			if err != nil {
				s.logger.Error("input watcher stopped", "error", err)
			}
		}()
	}

	s.logger.Info("scheduler started", "tick_unit", s.deps.Config.TickUnit, "instance", s.deps.Locker.Instance())
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	s.tick(ctx, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// RunOnce runs a job immediately, honoring the local guard and the
// distributed lock. ran is false when the job was skipped.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (ran bool, err error) {
	t, ok := s.tasks[name]
	if !ok {
		return false, fmt.Errorf("unknown job: %s", name)
	}
	return s.tick(ctx, t)
}

// tick runs one execution of a job. Overlapping ticks are dropped.
func (s *Scheduler) tick(ctx context.Context, t *task) (bool, error) {
	if !t.running.CompareAndSwap(false, true) {
		s.deps.Prom.Tick(t.name, metrics.TickBusy)
		s.logger.Debug("previous run still active, skipping tick", "job", t.name)
		return false, nil
	}
	defer t.running.Store(false)

	ran, err := s.deps.Locker.TryRun(ctx, t.name, t.run)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		s.deps.Prom.Tick(t.name, metrics.TickCanceled)
	case err != nil:
		s.deps.Prom.Tick(t.name, metrics.TickFailed)
		s.logger.Error("job failed", "job", t.name, "error", err)
	case !ran:
		s.deps.Prom.Tick(t.name, metrics.TickLocked)
	default:
		s.deps.Prom.Tick(t.name, metrics.TickRan)
	}
	return ran, err
}
