package patterns

import "context"

// VectorIndex is the storage abstraction for embedded scam patterns.
//
// An index is write-once per corpus build: Index is called with the full
// record set, after which the index serves Search queries until it is
// discarded and replaced by the next build. Implementations are not required
// to support incremental insertion, but upsert-on-duplicate-ID behaviour is
// acceptable.
//
// Search results must be ordered by descending Similarity with ties broken
// by ascending Record.ID, so that identical corpora produce identical result
// orderings regardless of backend. Searching an empty index returns an empty
// (non-nil) slice, never an error.
//
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Index stores the given records with their embeddings, replacing any
	// previously indexed corpus. Implementations that persist across builds
	// (rather than being constructed fresh per build) must make the
	// replacement atomic with respect to concurrent Search calls.
	Index(ctx context.Context, records []IndexedRecord) error

	// Search returns the topK records whose embeddings are most similar
	// (cosine) to the query embedding, ordered per the interface contract.
	// The result has length ≤ topK.
	Search(ctx context.Context, embedding []float32, topK int) ([]Match, error)

	// Count returns the number of records currently indexed.
	Count(ctx context.Context) (int, error)
}
