package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Lock is a held distributed lock row. Existence of the row means the lock is held.
type Lock struct {
	ID           surrealmodels.RecordID `json:"id"`
	LockKey      string                 `json:"lock_key"`
	InstanceName string                 `json:"instance_name"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
}

// Expired reports whether the lease has run out at the given time.
// Locks without a lease never expire.
func (l *Lock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
