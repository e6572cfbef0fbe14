// Package postgres provides a PostgreSQL/pgvector-backed implementation of
// [patterns.VectorIndex].
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS. An HNSW index accelerates
// cosine search for large corpora. Because HNSW is approximate, deployments
// that require the exact deterministic ordering guaranteed by the interface
// contract for equal-similarity results should prefer the in-memory index;
// the tie-break ORDER BY clause is still applied here so that exact scans
// (small corpora, index not yet built) stay deterministic.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Index(ctx, records)
//	matches, _ := store.Search(ctx, queryEmbedding, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/wardline/wardline/pkg/patterns"
)

// Ensure Store implements the patterns.VectorIndex interface.
var _ patterns.VectorIndex = (*Store)(nil)

// Store is a PostgreSQL-backed pattern index. All methods are safe for
// concurrent use; the underlying pgxpool handles connection concurrency.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs [Migrate] so the scam_patterns table
// and its indexes exist.
//
// embeddingDimensions must match the output dimension of the embedding
// provider used to build the corpus (e.g., 1536 for OpenAI
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pattern store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pattern store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pattern store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pattern store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Index implements [patterns.VectorIndex] as an atomic corpus replacement:
// the old rows are deleted and the new set inserted inside one transaction,
// so concurrent [Store.Search] calls see either the previous corpus or the
// new one in full — never an empty or half-filled table.
func (s *Store) Index(ctx context.Context, records []patterns.IndexedRecord) error {
	const q = `
		INSERT INTO scam_patterns (id, phrase, category, severity, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    phrase    = EXCLUDED.phrase,
		    category  = EXCLUDED.category,
		    severity  = EXCLUDED.severity,
		    embedding = EXCLUDED.embedding`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pattern store: begin index: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM scam_patterns`); err != nil {
		return fmt.Errorf("pattern store: clear previous corpus: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(q,
			r.Record.ID,
			r.Record.Phrase,
			string(r.Record.Category),
			r.Record.Severity,
			pgvector.NewVector(r.Embedding),
		)
	}

	res := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := res.Exec(); err != nil {
			res.Close()
			return fmt.Errorf("pattern store: index: %w", err)
		}
	}
	if err := res.Close(); err != nil {
		return fmt.Errorf("pattern store: index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pattern store: commit index: %w", err)
	}
	return nil
}

// Search implements [patterns.VectorIndex]. pgvector's <=> operator yields
// cosine distance; similarity is 1 − distance. Ties are broken by ascending
// record ID.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]patterns.Match, error) {
	if topK <= 0 {
		return []patterns.Match{}, nil
	}

	const q = `
		SELECT id, phrase, category, severity,
		       1 - (embedding <=> $1) AS similarity
		FROM   scam_patterns
		ORDER  BY similarity DESC, id ASC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("pattern store: search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (patterns.Match, error) {
		var (
			m   patterns.Match
			cat string
		)
		if err := row.Scan(&m.Record.ID, &m.Record.Phrase, &cat, &m.Record.Severity, &m.Similarity); err != nil {
			return patterns.Match{}, err
		}
		m.Record.Category = patterns.Category(cat)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pattern store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []patterns.Match{}
	}
	return matches, nil
}

// Count implements [patterns.VectorIndex].
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM scam_patterns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pattern store: count: %w", err)
	}
	return n, nil
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}
