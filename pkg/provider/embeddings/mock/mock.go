// Package mock provides a test double for the embeddings.Provider interface.
//
// The zero value returns empty vectors. For deterministic similarity tests,
// set EmbedFunc to derive a vector from the input text, e.g. a keyword-based
// direction so that related phrases land near each other:
//
//	p := &mock.Provider{
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-embed-v1",
//	    EmbedFunc: func(text string) []float32 { ... },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/wardline/wardline/pkg/provider/embeddings"
)

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedFunc, when non-nil, derives the vector returned for each text.
	// Used by both Embed and EmbedBatch.
	EmbedFunc func(text string) []float32

	// EmbedResult is returned by Embed when EmbedFunc is nil.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// EmbedCalls records every text passed to Embed, in order.
	EmbedCalls []string

	// EmbedBatchCalls records every text slice passed to EmbedBatch, in order.
	EmbedBatchCalls [][]string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text), nil
	}
	if p.EmbedResult != nil {
		return p.EmbedResult, nil
	}
	return []float32{}, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, cp)

	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		if p.EmbedFunc != nil {
			result[i] = p.EmbedFunc(t)
		} else if p.EmbedResult != nil {
			result[i] = p.EmbedResult
		} else {
			result[i] = []float32{}
		}
	}
	return result, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.ModelIDValue }
