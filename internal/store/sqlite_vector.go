package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raphaelgruber/docingest/internal/models"
)

// deleteBatchSize is how many rows one DELETE statement removes.
const deleteBatchSize = 1000

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vector_chunks (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_vector_chunks_identity ON vector_chunks (
	json_extract(metadata, '$.source'),
	json_extract(metadata, '$.source_type'),
	json_extract(metadata, '$.checksum')
);`

var sqliteMetadataKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteVectorStore keeps embedded chunks in a SQLite file. Metadata filters
// compile to json_extract comparisons backed by an identity index.
type SQLiteVectorStore struct {
	db       *sql.DB
	embedder Embedder
}

var _ VectorStore = (*SQLiteVectorStore)(nil)

// OpenSQLiteVectorStore opens (or creates) the database at path.
func OpenSQLiteVectorStore(path string, embedder Embedder) (*SQLiteVectorStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteVectorStore{db: db, embedder: embedder}, nil
}

// AddBatch implements VectorStore.
func (s *SQLiteVectorStore) AddBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := embedChunks(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vector_chunks (id, content, metadata, embedding)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, _, _, err := identity(c); err != nil {
			return err
		}
		id, err := trunkID(c)
		if err != nil {
			return err
		}
		metadataJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, c.Content, string(metadataJSON), float32SliceToBytes(vectors[i])); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// DeleteByIdentity implements VectorStore. Rows matching the identity filter
// are deleted in batches of deleteBatchSize until none remain, all in one
// transaction.
func (s *SQLiteVectorStore) DeleteByIdentity(ctx context.Context, source string, sourceType models.SourceType, checksum string) (int, error) {
	where, args, err := filterClause(IdentityFilter(source, sourceType, checksum))
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		"DELETE FROM vector_chunks WHERE id IN (SELECT id FROM vector_chunks"+where+" LIMIT ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing delete: %w", err)
	}
	defer stmt.Close()

	batchArgs := append(args, deleteBatchSize)
	deleted := 0
	for {
		res, err := stmt.ExecContext(ctx, batchArgs...)
		if err != nil {
			return 0, fmt.Errorf("deleting chunks: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("counting deleted chunks: %w", err)
		}
		if n == 0 {
			break
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return deleted, nil
}

// SearchByMetadata implements VectorStore.
func (s *SQLiteVectorStore) SearchByMetadata(ctx context.Context, filter Filter) ([]models.Chunk, error) {
	where, args, err := filterClause(filter)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT content, metadata FROM vector_chunks"+where+" ORDER BY id", args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	chunks := []models.Chunk{}
	for rows.Next() {
		var content, metadataJSON string
		if err := rows.Scan(&content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		var metadata map[string]any
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
		if matches(metadata, filter) {
			chunks = append(chunks, models.NewChunk(content, metadata))
		}
	}
	return chunks, rows.Err()
}

// Close implements VectorStore.
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}

// filterClause builds a WHERE clause comparing json_extract(metadata) values.
// SQLite returns JSON booleans as integers, so booleans are bound as 0 or 1.
func filterClause(filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !sqliteMetadataKey.MatchString(k) {
			return "", nil, fmt.Errorf("invalid metadata key: %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		conds[i] = fmt.Sprintf("json_extract(metadata, '$.%s') = ?", k)
		v := filter[k]
		if b, ok := v.(bool); ok {
			if b {
				v = 1
			} else {
				v = 0
			}
		}
		args[i] = v
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
