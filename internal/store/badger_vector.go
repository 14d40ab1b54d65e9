package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/raphaelgruber/docingest/internal/models"
)

const (
	chunkPrefix = "chunk/"
	identPrefix = "ident/"
)

// BadgerVectorStore keeps embedded chunks in an embedded Badger database.
// Each chunk is stored under chunk/<trunk_id>. An identity index under
// ident/<hash>/<trunk_id> makes deletes an exact metadata match.
type BadgerVectorStore struct {
	db       *badger.DB
	embedder Embedder
	logger   *slog.Logger
}

var _ VectorStore = (*BadgerVectorStore)(nil)

// badgerLogger adapts slog.Logger to the badger.Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; its info messages are logged as debug.
func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

type badgerChunk struct {
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

// OpenBadgerVectorStore opens (or creates) a store in dir.
// An empty dir opens an in-memory store.
func OpenBadgerVectorStore(dir string, embedder Embedder, logger *slog.Logger) (*BadgerVectorStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerVectorStore{db: db, embedder: embedder, logger: logger}, nil
}

func identityHash(source, sourceType, checksum string) string {
	sum := sha256.Sum256([]byte(source + "|" + sourceType + "|" + checksum))
	return hex.EncodeToString(sum[:])
}

func identKey(hash, trunkID string) []byte {
	return []byte(identPrefix + hash + "/" + trunkID)
}

// AddBatch implements VectorStore. All chunks of a batch are written in one transaction.
func (s *BadgerVectorStore) AddBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := embedChunks(ctx, s.embedder, chunks)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for i, c := range chunks {
			source, sourceType, checksum, err := identity(c)
			if err != nil {
				return err
			}
			id, err := trunkID(c)
			if err != nil {
				return err
			}
			data, err := json.Marshal(badgerChunk{Content: c.Content, Metadata: c.Metadata, Embedding: vectors[i]})
			if err != nil {
				return fmt.Errorf("encode chunk %s: %w", id, err)
			}
			if err := txn.Set([]byte(chunkPrefix+id), data); err != nil {
				return fmt.Errorf("put chunk %s: %w", id, err)
			}
			if err := txn.Set(identKey(identityHash(source, sourceType, checksum), id), nil); err != nil {
				return fmt.Errorf("put identity %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteByIdentity implements VectorStore.
func (s *BadgerVectorStore) DeleteByIdentity(ctx context.Context, source string, sourceType models.SourceType, checksum string) (int, error) {
	prefix := []byte(identPrefix + identityHash(source, string(sourceType), checksum) + "/")

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			id := bytes.TrimPrefix(key, prefix)
			keys = append(keys, key, append([]byte(chunkPrefix), id...))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan identity: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete chunks: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return len(keys) / 2, nil
}

// SearchByMetadata implements VectorStore with a full scan of chunk records.
func (s *BadgerVectorStore) SearchByMetadata(ctx context.Context, filter Filter) ([]models.Chunk, error) {
	chunks := []models.Chunk{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec badgerChunk
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if matches(rec.Metadata, filter) {
				chunks = append(chunks, models.NewChunk(rec.Content, rec.Metadata))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search by metadata: %w", err)
	}
	return chunks, nil
}

// Close implements VectorStore.
func (s *BadgerVectorStore) Close() error {
	return s.db.Close()
}
