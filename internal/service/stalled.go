package service

import (
	"context"
	"log/slog"
)

// StalledResetter returns rows stuck in_progress to the pending queue.
type StalledResetter struct {
	deps   Deps
	logger *slog.Logger
}

// NewStalledResetter creates the stalled job resetter.
func NewStalledResetter(deps Deps) *StalledResetter {
	return &StalledResetter{deps: deps, logger: deps.logger().With("component", "stalled_reset")}
}

// Reset moves rows in_progress for longer than the stalled threshold back to
// pending and returns how many were reset.
func (r *StalledResetter) Reset(ctx context.Context) (int, error) {
	rows, err := r.deps.DB.QueryResetStalled(ctx, r.deps.Config.StalledThreshold())
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		r.logger.Warn("reset stalled document", "index_log_id", row.LogID(), "source", row.Source, "retry_count", row.RetryCount)
	}
	r.deps.Prom.StalledReset(len(rows))
	return len(rows), nil
}
