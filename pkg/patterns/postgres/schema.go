package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlPatterns returns the scam_patterns DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlPatterns(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS scam_patterns (
    id         TEXT              PRIMARY KEY,
    phrase     TEXT              NOT NULL,
    category   TEXT              NOT NULL,
    severity   DOUBLE PRECISION  NOT NULL,
    embedding  vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_scam_patterns_category
    ON scam_patterns (category);

CREATE INDEX IF NOT EXISTS idx_scam_patterns_embedding
    ON scam_patterns USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the scam_patterns table, its category index,
// and the HNSW cosine index exist. It is idempotent and safe to run on every
// application start.
//
// embeddingDimensions must match the embedding provider configured for the
// deployment; changing it after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlPatterns(embeddingDimensions)); err != nil {
		return fmt.Errorf("pattern store migrate: %w", err)
	}
	return nil
}
