package db

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kvkstats/internal/docstore"
)

const (
	upsertSetSQL = `
		INSERT INTO documents (path, data, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	// jsonb || jsonb replaces top-level keys, which is the shallow merge docstore promises.
	upsertMergeSQL = `
		INSERT INTO documents (path, data, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	deleteSQL = `DELETE FROM documents WHERE path = $1`
)

// DocumentStore is the Postgres implementation of docstore.Store.
type DocumentStore struct {
	pool *pgxpool.Pool
}

// NewDocumentStore creates a document store over the pool.
func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

var (
	_ docstore.Store  = (*DocumentStore)(nil)
	_ docstore.Reader = txReader{}
)

// Get reads one document.
func (s *DocumentStore) Get(ctx context.Context, path string, dst any) (bool, error) {
	return getDocument(ctx, s.pool, path, dst)
}

// querier is the part of pgxpool.Pool and pgx.Tx that reads need.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txReader serves reads made inside Update from the update's own
// transaction, so the callback never waits on the pool while holding a lock.
type txReader struct {
	tx pgx.Tx
}

func (r txReader) Get(ctx context.Context, path string, dst any) (bool, error) {
	return getDocument(ctx, r.tx, path, dst)
}

func getDocument(ctx context.Context, q querier, path string, dst any) (bool, error) {
	if err := docstore.ValidatePath(path); err != nil {
		return false, err
	}

	var data []byte
	err := q.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", path, err)
	}

	if err := docstore.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Set writes one document, replacing or shallow-merging it.
func (s *DocumentStore) Set(ctx context.Context, path string, value any, merge bool) error {
	kind := docstore.WriteSet
	if merge {
		kind = docstore.WriteMerge
	}
	return s.Batch(ctx, []docstore.Write{{Kind: kind, Path: path, Value: value}})
}

// Batch applies all writes within a single transaction.
func (s *DocumentStore) Batch(ctx context.Context, writes []docstore.Write) error {
	if len(writes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, w := range writes {
		if err := docstore.ValidatePath(w.Path); err != nil {
			return err
		}
		switch w.Kind {
		case docstore.WriteDelete:
			batch.Queue(deleteSQL, w.Path)
		case docstore.WriteSet, docstore.WriteMerge:
			data, err := docstore.Marshal(w.Value)
			if err != nil {
				return fmt.Errorf("encode %s: %w", w.Path, err)
			}
			query := upsertSetSQL
			if w.Kind == docstore.WriteMerge {
				query = upsertMergeSQL
			}
			batch.Queue(query, w.Path, string(data))
		default:
			return fmt.Errorf("unknown write kind %d for %s", w.Kind, w.Path)
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for i := range writes {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("write %s: %w", writes[i].Path, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

// Update runs fn inside a transaction holding an advisory lock on the path.
// The lock also covers documents that do not exist yet, which row locks cannot.
// Reads fn makes through its reader use the same transaction and connection.
func (s *DocumentStore) Update(ctx context.Context, path string, fn docstore.UpdateFunc) error {
	if err := docstore.ValidatePath(path); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey(path)); err != nil {
		return fmt.Errorf("acquire document lock: %w", err)
	}

	var current []byte
	exists := true
	err = tx.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, path).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
		current = nil
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	value, err := fn(txReader{tx: tx}, current, exists)
	if err != nil {
		return err
	}

	data, err := docstore.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if _, err := tx.Exec(ctx, upsertSetSQL, path, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return tx.Commit(ctx)
}

// List returns the documents under prefix ordered by path.
func (s *DocumentStore) List(ctx context.Context, prefix string) ([]docstore.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, data, updated_at
		FROM documents
		WHERE path LIKE $1
		ORDER BY path
	`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var d docstore.Document
		if err := rows.Scan(&d.Path, &d.Data, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}

	return docs, rows.Err()
}

// DeleteCollection removes every document under prefix.
func (s *DocumentStore) DeleteCollection(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, docstore.ErrInvalidPath
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path LIKE $1`, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("delete collection %s: %w", prefix, err)
	}
	return int(tag.RowsAffected()), nil
}

// advisoryLockKey generates a stable int64 key from a document path for pg_advisory_xact_lock.
func advisoryLockKey(path string) int64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns a literal prefix into a LIKE pattern.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
