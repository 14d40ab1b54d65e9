package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// eligibleClause selects rows the drain may claim: pending rows and failed
// rows that have not used up their retries.
const eligibleClause = `(status = "pending" OR (status = "failed" AND retry_count <= $max_retries))`

// NewIndexLog holds the fields of a row being created.
type NewIndexLog struct {
	ID             string
	Source         string
	SourceType     models.SourceType
	Checksum       models.Checksum
	ProcessingType models.ProcessingType
	CreatedBy      string
}

// firstIndexLog returns the first row of the first statement result, or nil.
func firstIndexLog(results *[]surrealdb.QueryResult[[]models.IndexLog]) *models.IndexLog {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil
	}
	return &(*results)[0].Result[0]
}

// QueryCreateIndexLog inserts a pending row.
// Returns ErrAlreadyExists when the identity or the checksum is already taken.
func (c *Client) QueryCreateIndexLog(ctx context.Context, in NewIndexLog) (*models.IndexLog, error) {
	sql := `
		CREATE type::record("index_log", $id) SET
			source = $source,
			source_type = $source_type,
			checksum = $checksum,
			dedup_key = $dedup_key,
			status = "pending",
			processing_type = $processing_type,
			retry_count = 0,
			created_at = time::now(),
			created_by = $user,
			modified_at = time::now(),
			modified_by = $user
		RETURN AFTER
	`
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, sql, map[string]any{
		"id":              in.ID,
		"source":          in.Source,
		"source_type":     string(in.SourceType),
		"checksum":        in.Checksum.Ptr(),
		"dedup_key":       models.DedupKey(in.Checksum, in.Source, in.SourceType),
		"processing_type": string(in.ProcessingType),
		"user":            in.CreatedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("create index log: %w", wrapQueryError(err))
	}
	row := firstIndexLog(results)
	if row == nil {
		return nil, fmt.Errorf("create index log: no result returned")
	}
	return row, nil
}

// QueryGetIndexLog retrieves a row by id. Returns nil if not found.
func (c *Client) QueryGetIndexLog(ctx context.Context, id string) (*models.IndexLog, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		SELECT * FROM type::record("index_log", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get index log: %w", err)
	}
	return firstIndexLog(results), nil
}

// QueryFindIndexLogByChecksum looks up the row holding a known checksum.
// Returns nil if not found.
func (c *Client) QueryFindIndexLogByChecksum(ctx context.Context, checksum string) (*models.IndexLog, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		SELECT * FROM index_log WHERE dedup_key = $key LIMIT 1
	`, map[string]any{"key": checksum})
	if err != nil {
		return nil, fmt.Errorf("find index log by checksum: %w", err)
	}
	return firstIndexLog(results), nil
}

// QueryFindIndexLogByIdentity looks up a row by source type and any of the
// given source strings. Callers pass the input path together with its
// archived location so a completed file is still found after it was moved.
func (c *Client) QueryFindIndexLogByIdentity(ctx context.Context, sourceType models.SourceType, sources ...string) (*models.IndexLog, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		SELECT * FROM index_log WHERE source IN $sources AND source_type = $source_type
		ORDER BY id LIMIT 1
	`, map[string]any{
		"sources":     sources,
		"source_type": string(sourceType),
	})
	if err != nil {
		return nil, fmt.Errorf("find index log by identity: %w", err)
	}
	return firstIndexLog(results), nil
}

// QueryClaimIndexLogs moves up to limit eligible rows to in_progress for the
// given instance and returns them in id order.
//
// The select and the conditional update run as one statement, so they share
// a transaction. Two instances racing for the same rows make one of them fail
// with ErrTransactionConflict; the eligibility recheck in the WHERE clause
// keeps a row that was claimed in between from being returned twice.
func (c *Client) QueryClaimIndexLogs(ctx context.Context, instance string, maxRetries, limit int) ([]models.IndexLog, error) {
	if limit <= 0 {
		return []models.IndexLog{}, nil
	}
	sql := fmt.Sprintf(`
		UPDATE (SELECT VALUE id FROM index_log WHERE %[1]s ORDER BY id LIMIT $limit) SET
			status = "in_progress",
			claimed_by = $instance,
			error_message = NONE,
			modified_at = time::now()
		WHERE %[1]s
		RETURN AFTER
	`, eligibleClause)

	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, sql, map[string]any{
		"instance":    instance,
		"max_retries": maxRetries,
		"limit":       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("claim index logs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.IndexLog{}, nil
	}
	rows := (*results)[0].Result
	sortByID(rows)
	return rows, nil
}

// QueryTouchIndexLog refreshes modified_at of a row this instance has claimed.
// Returns false when the row is no longer claimed by the instance.
func (c *Client) QueryTouchIndexLog(ctx context.Context, id, instance string) (bool, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		UPDATE type::record("index_log", $id) SET modified_at = time::now()
		WHERE status = "in_progress" AND claimed_by = $instance
		RETURN AFTER
	`, map[string]any{"id": id, "instance": instance})
	if err != nil {
		return false, fmt.Errorf("touch index log: %w", wrapQueryError(err))
	}
	return firstIndexLog(results) != nil, nil
}

// QueryMarkCompleted finishes a row claimed by instance. source is the final
// location of the document (the archive path for files). Returns false when
// the row is no longer claimed by the instance.
func (c *Client) QueryMarkCompleted(ctx context.Context, id, instance, source string) (bool, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		UPDATE type::record("index_log", $id) SET
			status = "completed",
			source = $source,
			error_message = NONE,
			claimed_by = NONE,
			modified_at = time::now(),
			modified_by = $user
		WHERE status = "in_progress" AND claimed_by = $instance
		RETURN AFTER
	`, map[string]any{"id": id, "instance": instance, "source": source, "user": models.SystemUser})
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", wrapQueryError(err))
	}
	return firstIndexLog(results) != nil, nil
}

// QueryMarkFailed records a processing failure of a row claimed by instance
// and bumps retry_count. Returns false when the row is no longer claimed by
// the instance.
func (c *Client) QueryMarkFailed(ctx context.Context, id, instance, message string) (bool, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		UPDATE type::record("index_log", $id) SET
			status = "failed",
			retry_count += 1,
			error_message = $message,
			claimed_by = NONE,
			modified_at = time::now(),
			modified_by = $user
		WHERE status = "in_progress" AND claimed_by = $instance
		RETURN AFTER
	`, map[string]any{"id": id, "instance": instance, "message": message, "user": models.SystemUser})
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", wrapQueryError(err))
	}
	return firstIndexLog(results) != nil, nil
}

// QueryUpdateChecksum stores a checksum resolved after loading.
// Returns ErrAlreadyExists when another row already holds it.
func (c *Client) QueryUpdateChecksum(ctx context.Context, id, checksum string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("index_log", $id) SET
			checksum = $checksum,
			dedup_key = $checksum,
			modified_at = time::now()
	`, map[string]any{"id": id, "checksum": checksum})
	if err != nil {
		return fmt.Errorf("update checksum: %w", wrapQueryError(err))
	}
	return nil
}

// ReingestUpdate holds the fields replaced when known content changes.
type ReingestUpdate struct {
	Source         string
	SourceType     models.SourceType
	Checksum       models.Checksum
	ProcessingType models.ProcessingType
	ModifiedBy     string
}

// QueryUpdateForReingest requeues an existing row with new content.
// retry_count is left as is.
func (c *Client) QueryUpdateForReingest(ctx context.Context, id string, u ReingestUpdate) (*models.IndexLog, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		UPDATE type::record("index_log", $id) SET
			source = $source,
			checksum = $checksum,
			dedup_key = $dedup_key,
			status = "pending",
			processing_type = $processing_type,
			error_message = NONE,
			claimed_by = NONE,
			modified_at = time::now(),
			modified_by = $user
		RETURN AFTER
	`, map[string]any{
		"id":              id,
		"source":          u.Source,
		"checksum":        u.Checksum.Ptr(),
		"dedup_key":       models.DedupKey(u.Checksum, u.Source, u.SourceType),
		"processing_type": string(u.ProcessingType),
		"user":            u.ModifiedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("update for reingest: %w", wrapQueryError(err))
	}
	row := firstIndexLog(results)
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// QueryResetStalled returns rows stuck in_progress for longer than threshold
// to pending. modified_at is refreshed, so a row is reset at most once per
// staleness window.
func (c *Client) QueryResetStalled(ctx context.Context, threshold time.Duration) ([]models.IndexLog, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		UPDATE index_log SET
			status = "pending",
			error_message = $message,
			claimed_by = NONE,
			modified_at = time::now(),
			modified_by = $user
		WHERE status = "in_progress"
			AND modified_at < time::now() - duration::from::millis($threshold_ms)
		RETURN AFTER
	`, map[string]any{
		"message":      models.StalledResetMessage,
		"user":         models.SystemUser,
		"threshold_ms": threshold.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("reset stalled: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.IndexLog{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryDeleteIndexLog deletes a row. Returns false if it did not exist.
func (c *Client) QueryDeleteIndexLog(ctx context.Context, id string) (bool, error) {
	results, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, `
		DELETE type::record("index_log", $id) RETURN BEFORE
	`, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("delete index log: %w", err)
	}
	return firstIndexLog(results) != nil, nil
}

// QueryListIndexLogs returns one page of rows matching the filter, newest
// first, together with the total number of matches.
func (c *Client) QueryListIndexLogs(ctx context.Context, filter models.IndexLogFilter) ([]models.IndexLog, int, error) {
	filter = filter.Normalize()

	var conds []string
	vars := map[string]any{
		"limit": filter.PageSize,
		"start": filter.Offset(),
	}
	if filter.Source != "" {
		conds = append(conds, "string::contains(string::lowercase(source), $source)")
		vars["source"] = strings.ToLower(filter.Source)
	}
	if filter.SourceType != "" {
		conds = append(conds, "source_type = $source_type")
		vars["source_type"] = string(filter.SourceType)
	}
	if filter.Status != "" {
		conds = append(conds, "status = $status")
		vars["status"] = string(filter.Status)
	}
	if filter.CreatedBy != "" {
		conds = append(conds, "string::contains(string::lowercase(created_by), $created_by)")
		vars["created_by"] = strings.ToLower(filter.CreatedBy)
	}
	if filter.CreatedFrom != nil {
		conds = append(conds, "created_at >= <datetime>$created_from")
		vars["created_from"] = filter.CreatedFrom.UTC().Format(time.RFC3339Nano)
	}
	if filter.CreatedTo != nil {
		conds = append(conds, "created_at <= <datetime>$created_to")
		vars["created_to"] = filter.CreatedTo.UTC().Format(time.RFC3339Nano)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	rows, err := surrealdb.Query[[]models.IndexLog](ctx, c.db, fmt.Sprintf(`
		SELECT * FROM index_log %s ORDER BY id DESC LIMIT $limit START $start
	`, where), vars)
	if err != nil {
		return nil, 0, fmt.Errorf("list index logs: %w", err)
	}

	type countRow struct {
		Count int `json:"count"`
	}
	counts, err := surrealdb.Query[[]countRow](ctx, c.db, fmt.Sprintf(`
		SELECT count() AS count FROM index_log %s GROUP ALL
	`, where), vars)
	if err != nil {
		return nil, 0, fmt.Errorf("count index logs: %w", err)
	}

	total := 0
	if counts != nil && len(*counts) > 0 && len((*counts)[0].Result) > 0 {
		total = (*counts)[0].Result[0].Count
	}
	if rows == nil || len(*rows) == 0 {
		return []models.IndexLog{}, total, nil
	}
	return (*rows)[0].Result, total, nil
}

// sortByID orders rows by their UUIDv7 key, which is creation order.
func sortByID(rows []models.IndexLog) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].LogID() < rows[j].LogID() })
}
