// Package pgvector provides a PostgreSQL-backed vectorstore.Store using the
// pgvector extension for cosine nearest-neighbour search.
//
// All documents live in a single table with a jsonb metadata column; filter
// clauses are translated to SQL predicates over that column. Range clauses
// compare as text, which is correct for the ISO-8601 date strings the
// embedding pipeline writes.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	pgvpgx "github.com/pgvector/pgvector-go/pgx"

	"github.com/echonote/echonote/pkg/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

// Store implements vectorstore.Store on PostgreSQL + pgvector.
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the PostgreSQL database at dsn, registers pgvector types on
// every connection, and ensures the documents table exists with the given
// embedding dimension. Changing the dimension after the first migration
// requires a manual schema change and a reindex.
func New(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("pgvector store: dimensions must be positive, got %d", dimensions)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: ping: %w", err)
	}
	if err := migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool without running migrations. The pool
// must already have pgvector types registered.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS documents (
		    id        TEXT        PRIMARY KEY,
		    text      TEXT        NOT NULL,
		    metadata  JSONB       NOT NULL DEFAULT '{}',
		    embedding VECTOR(%d)  NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_embedding
		    ON documents USING hnsw (embedding vector_cosine_ops);

		CREATE INDEX IF NOT EXISTS idx_documents_metadata
		    ON documents USING GIN (metadata);`, dimensions)
	_, err := pool.Exec(ctx, ddl)
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert implements vectorstore.Store.
func (s *Store) Upsert(ctx context.Context, id, text string, vector []float32, metadata map[string]any) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("pgvector store: marshal metadata for %q: %w", id, err)
	}
	const q = `
		INSERT INTO documents (id, text, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
		    text      = EXCLUDED.text,
		    metadata  = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding`
	if _, err := s.pool.Exec(ctx, q, id, text, meta, pgv.NewVector(vector)); err != nil {
		return fmt.Errorf("pgvector store: upsert %q: %w", id, err)
	}
	return nil
}

// Search implements vectorstore.Store. Results are ordered by ascending
// cosine distance (most similar first).
func (s *Store) Search(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	args := []any{pgv.NewVector(vector)}
	where, args := whereClause(filter, args)

	args = append(args, topK)
	q := fmt.Sprintf(`
		SELECT id, text, metadata, embedding <=> $1 AS distance
		FROM   documents
		%s
		ORDER  BY distance
		LIMIT  $%d`, where, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: search: %w", err)
	}
	results, err := collectResults(rows, true)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: search scan: %w", err)
	}
	return results, nil
}

// Fetch implements vectorstore.Store.
func (s *Store) Fetch(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Result, error) {
	where, args := whereClause(filter, nil)

	limitClause := ""
	if limit > 0 {
		args = append(args, limit)
		limitClause = fmt.Sprintf("LIMIT $%d", len(args))
	}
	q := fmt.Sprintf(`
		SELECT id, text, metadata
		FROM   documents
		%s
		ORDER  BY id
		%s`, where, limitClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: fetch: %w", err)
	}
	results, err := collectResults(rows, false)
	if err != nil {
		return nil, fmt.Errorf("pgvector store: fetch scan: %w", err)
	}
	return results, nil
}

// Delete implements vectorstore.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("pgvector store: delete %q: %w", id, err)
	}
	return nil
}

// Count implements vectorstore.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector store: count: %w", err)
	}
	return n, nil
}

func collectResults(rows pgx.Rows, withDistance bool) ([]vectorstore.Result, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vectorstore.Result, error) {
		var (
			r    vectorstore.Result
			meta []byte
		)
		dest := []any{&r.ID, &r.Text, &meta}
		if withDistance {
			dest = append(dest, &r.Distance)
		}
		if err := row.Scan(dest...); err != nil {
			return vectorstore.Result{}, err
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return vectorstore.Result{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []vectorstore.Result{}
	}
	return results, nil
}

// whereClause translates a filter into a SQL WHERE clause over the jsonb
// metadata column, appending bind values to args. Returns the (possibly
// empty) clause and the extended args slice.
func whereClause(filter vectorstore.Filter, args []any) (string, []any) {
	if filter == nil {
		return "", args
	}
	var sb strings.Builder
	args = appendPredicate(&sb, filter, args)
	return "WHERE " + sb.String(), args
}

func appendPredicate(sb *strings.Builder, filter vectorstore.Filter, args []any) []any {
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch f := filter.(type) {
	case vectorstore.Eq:
		fmt.Fprintf(sb, "metadata->>%s = %s", next(f.Field), next(fmt.Sprint(f.Value)))
	case vectorstore.Gte:
		fmt.Fprintf(sb, "metadata->>%s >= %s", next(f.Field), next(fmt.Sprint(f.Value)))
	case vectorstore.Lte:
		fmt.Fprintf(sb, "metadata->>%s <= %s", next(f.Field), next(fmt.Sprint(f.Value)))
	case vectorstore.Contains:
		fmt.Fprintf(sb, "metadata->>%s LIKE '%%' || %s || '%%'", next(f.Field), next(f.Value))
	case vectorstore.And:
		for i, c := range f.Clauses {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			sb.WriteString("(")
			args = appendPredicate(sb, c, args)
			sb.WriteString(")")
		}
	}
	return args
}
