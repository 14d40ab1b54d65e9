package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// QueryAcquireLock tries to take the named lock for an instance.
// An expired lease is cleared first. lease <= 0 means the lock never expires.
// Returns false without error when another holder has it, including when a
// concurrent acquire wins the same write.
func (c *Client) QueryAcquireLock(ctx context.Context, key, instance string, lease time.Duration) (bool, error) {
	sql := `
		DELETE distributed_lock WHERE lock_key = $key
			AND expires_at != NONE AND expires_at < time::now();
		CREATE type::record("distributed_lock", $key) SET
			lock_key = $key,
			instance_name = $instance,
			created_at = time::now(),
			expires_at = IF $lease_ms > 0 THEN time::now() + duration::from::millis($lease_ms) ELSE NONE END;
	`
	_, err := surrealdb.Query[[]models.Lock](ctx, c.db, sql, map[string]any{
		"key":      key,
		"instance": instance,
		"lease_ms": lease.Milliseconds(),
	})
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrAlreadyExists) || errors.Is(err, ErrTransactionConflict) {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return true, nil
}

// QueryReleaseLock drops the lock if the instance holds it.
// Returns true if a row was deleted.
func (c *Client) QueryReleaseLock(ctx context.Context, key, instance string) (bool, error) {
	results, err := surrealdb.Query[[]models.Lock](ctx, c.db, `
		DELETE distributed_lock WHERE lock_key = $key AND instance_name = $instance RETURN BEFORE
	`, map[string]any{"key": key, "instance": instance})
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	if results == nil || len(*results) == 0 {
		return false, nil
	}
	return len((*results)[0].Result) > 0, nil
}

// QueryListLocks returns all held locks ordered by key.
func (c *Client) QueryListLocks(ctx context.Context) ([]models.Lock, error) {
	results, err := surrealdb.Query[[]models.Lock](ctx, c.db, `
		SELECT * FROM distributed_lock ORDER BY lock_key
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.Lock{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryForceReleaseLock deletes a lock regardless of its holder.
// Used by operators to clear a lock left behind by a dead instance.
func (c *Client) QueryForceReleaseLock(ctx context.Context, key string) (bool, error) {
	results, err := surrealdb.Query[[]models.Lock](ctx, c.db, `
		DELETE distributed_lock WHERE lock_key = $key RETURN BEFORE
	`, map[string]any{"key": key})
	if err != nil {
		return false, fmt.Errorf("force release lock %s: %w", key, err)
	}
	if results == nil || len(*results) == 0 {
		return false, nil
	}
	return len((*results)[0].Result) > 0, nil
}
