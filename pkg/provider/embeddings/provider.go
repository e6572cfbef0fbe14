// Package embeddings defines the Provider interface for the vector embedding
// backends used by Wardline.
//
// A provider maps text — scam-pattern phrases at corpus build time, transcript
// chunks at query time — to dense float32 vectors. Patterns and queries must
// be embedded by the same provider instance (same model, same vector space)
// for similarity scores to be meaningful; the index layer enforces this by
// stamping snapshots with the provider's model ID.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by one Provider instance share the dimensionality
// reported by Dimensions. Callers must never mix vectors from different
// providers in the same similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns
	// a float32 slice of length Dimensions() or an error if the request
	// fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts with
	// result[i] corresponding to texts[i]. On error the entire result is nil;
	// partial results are never returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, determined by the underlying model.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small", "nomic-embed-text"). Recorded in
	// index snapshots to prevent cross-model vector mixing.
	ModelID() string
}
