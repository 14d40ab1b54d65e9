// Package lock runs jobs under a database-backed mutex so that only one
// instance executes a given job at a time.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store is the lock table.
type Store interface {
	QueryAcquireLock(ctx context.Context, key, instance string, lease time.Duration) (bool, error)
	QueryReleaseLock(ctx context.Context, key, instance string) (bool, error)
}

// Locker acquires named locks on behalf of one instance.
type Locker struct {
	store    Store
	instance string
	lease    time.Duration
	logger   *slog.Logger
}

// NewLocker creates a Locker. lease <= 0 takes locks without expiry.
func NewLocker(store Store, instance string, lease time.Duration, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{store: store, instance: instance, lease: lease, logger: logger}
}

// Instance returns the name locks are taken under.
func (l *Locker) Instance() string {
	return l.instance
}

// TryRun runs fn while holding the lock named key.
// When another instance holds the lock, fn is skipped and ran is false.
// The lock is released after fn returns, even if ctx was cancelled.
func (l *Locker) TryRun(ctx context.Context, key string, fn func(context.Context) error) (ran bool, err error) {
	ok, err := l.store.QueryAcquireLock(ctx, key, l.instance, l.lease)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug("lock held elsewhere, skipping", "lock_key", key)
		return false, nil
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		released, relErr := l.store.QueryReleaseLock(releaseCtx, key, l.instance)
		if relErr != nil {
			l.logger.Error("release lock failed", "lock_key", key, "error", relErr)
			return
		}
		if !released {
			l.logger.Warn("lock was not held at release", "lock_key", key)
		}
	}()

	return true, fn(ctx)
}
