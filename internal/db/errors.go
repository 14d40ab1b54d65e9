package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyExists indicates a write violated a unique index or record key:
	// a duplicate checksum, a duplicate (source, source_type) or a held lock.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// Concurrent claims on the same rows surface this; callers skip the tick.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// conflictMarkers are substrings SurrealDB uses for optimistic concurrency failures.
var conflictMarkers = []string{
	"Transaction conflict",
	"read or write conflict",
	"can be retried",
}

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. Returns the original error
// if it's not a QueryError or doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}

	msg := queryErr.Message
	if strings.Contains(msg, "already exists") || strings.Contains(msg, "already contains") {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
	}
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}
	return err
}
