package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wardline/wardline/internal/observe"
	"github.com/wardline/wardline/pkg/provider/embeddings"
)

// ErrAllBackendsFailed is returned when every embedding backend in an
// [EmbeddingsFallback] fails or has an open circuit breaker.
var ErrAllBackendsFailed = errors.New("all embedding backends failed")

// FallbackConfig configures the per-backend circuit breaker created for each
// provider registered with an [EmbeddingsFallback].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// backend pairs one embedding provider with its dedicated circuit breaker.
type backend struct {
	name     string
	provider embeddings.Provider
	breaker  *CircuitBreaker
}

// EmbeddingsFallback implements [embeddings.Provider] with automatic failover
// across multiple embedding backends. Backends are tried in registration
// order; one with an open breaker is skipped without a call. Every attempt is
// counted against the backend's own name in the provider metrics.
//
// All backends in one chain must produce vectors of the same dimensionality;
// mixing models with different vector spaces would make index similarities
// meaningless. [EmbeddingsFallback.Dimensions] and
// [EmbeddingsFallback.ModelID] therefore always report the primary's values.
//
// Register all fallbacks before the first Embed call; AddFallback is not
// synchronized against in-flight requests.
type EmbeddingsFallback struct {
	backends []backend
	cbCfg    CircuitBreakerConfig
	metrics  *observe.Metrics
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	f := &EmbeddingsFallback{
		cbCfg:   cfg.CircuitBreaker,
		metrics: observe.DefaultMetrics(),
	}
	f.AddFallback(primaryName, primary)
	return f
}

// AddFallback registers an additional embedding backend. Fallbacks are tried
// in the order they are added, after the primary.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	cbCfg := f.cbCfg
	cbCfg.Name = name
	f.backends = append(f.backends, backend{
		name:     name,
		provider: provider,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Embed returns the embedding for text from the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return attempt(ctx, f, "embed", func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch returns embeddings for texts from the first healthy backend.
// The whole batch goes to one backend; a partial batch from a failing
// provider is never mixed with vectors from another.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return attempt(ctx, f, "embed_batch", func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions reports the primary backend's vector dimensionality.
func (f *EmbeddingsFallback) Dimensions() int { return f.backends[0].provider.Dimensions() }

// ModelID reports the primary backend's model identifier.
func (f *EmbeddingsFallback) ModelID() string { return f.backends[0].provider.ModelID() }

// attempt tries call against each backend in order until one succeeds. This
// is a package-level function because Go does not support method-level type
// parameters.
func attempt[R any](ctx context.Context, f *EmbeddingsFallback, kind string, call func(embeddings.Provider) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range f.backends {
		b := &f.backends[i]
		var out R
		err := b.breaker.Execute(func() error {
			var callErr error
			out, callErr = call(b.provider)
			return callErr
		})
		switch {
		case err == nil:
			f.metrics.RecordProviderRequest(ctx, b.name, kind, "ok")
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping embedding backend (circuit open)", "backend", b.name)
		default:
			f.metrics.RecordProviderRequest(ctx, b.name, kind, "error")
			f.metrics.RecordProviderError(ctx, b.name, kind)
			slog.Warn("embedding backend failed, trying next",
				"backend", b.name, "kind", kind, "error", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
