// Package mock provides a test double for the patterns.VectorIndex interface.
//
// Use Index to return pre-canned search results without embedding anything
// and to verify which embeddings were submitted for search.
//
// Example:
//
//	ix := &mock.Index{
//	    SearchResult: []patterns.Match{{Record: rec, Similarity: 0.91}},
//	}
//	matches, _ := ix.Search(ctx, vec, 5)
package mock

import (
	"context"
	"sync"

	"github.com/wardline/wardline/pkg/patterns"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Embedding is a copy of the query vector passed to Search.
	Embedding []float32
	// TopK is the result cap passed to Search.
	TopK int
}

// Index is a mock implementation of patterns.VectorIndex.
type Index struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// IndexErr, if non-nil, is returned as the error from Index.
	IndexErr error

	// SearchResult is returned by Search. If nil, an empty slice is returned.
	SearchResult []patterns.Match

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// --- Call records ---

	// Indexed accumulates every record passed to Index, in order.
	Indexed []patterns.IndexedRecord

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall
}

var _ patterns.VectorIndex = (*Index)(nil)

// Index implements patterns.VectorIndex.
func (ix *Index) Index(_ context.Context, records []patterns.IndexedRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.IndexErr != nil {
		return ix.IndexErr
	}
	ix.Indexed = append(ix.Indexed, records...)
	return nil
}

// Search implements patterns.VectorIndex.
func (ix *Index) Search(_ context.Context, embedding []float32, topK int) ([]patterns.Match, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	ix.SearchCalls = append(ix.SearchCalls, SearchCall{Embedding: vec, TopK: topK})

	if ix.SearchErr != nil {
		return nil, ix.SearchErr
	}
	if ix.SearchResult == nil {
		return []patterns.Match{}, nil
	}
	res := ix.SearchResult
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}

// Count implements patterns.VectorIndex. It reports the number of records
// accumulated through Index.
func (ix *Index) Count(_ context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.Indexed), nil
}
