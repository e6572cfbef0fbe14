// Package index builds and queries the embedding index over the scam-pattern
// corpus.
//
// A [Searcher] owns an embedding provider and the currently active
// [patterns.VectorIndex]. Rebuilds embed the corpus concurrently, populate a
// fresh index, and swap it in atomically once complete — in-flight queries
// never observe a partially built index. Before the first successful build
// (or snapshot load), queries fail with [ErrIndexUnavailable] so callers can
// degrade to signal-only scoring instead of blocking a live call.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/wardline/wardline/internal/observe"
	"github.com/wardline/wardline/pkg/patterns"
	"github.com/wardline/wardline/pkg/patterns/memindex"
	"github.com/wardline/wardline/pkg/provider/embeddings"
)

// ErrIndexUnavailable is returned by [Searcher.Query] before any index has
// been built or loaded.
var ErrIndexUnavailable = errors.New("index: no index built yet")

const (
	defaultBatchSize   = 64
	defaultConcurrency = 4
)

// Option is a functional option for [New].
type Option func(*Searcher)

// WithBatchSize sets how many phrases are embedded per provider call during
// a rebuild. Default: 64.
func WithBatchSize(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency caps the number of concurrent embedding calls during a
// rebuild. Default: 4.
func WithConcurrency(n int) Option {
	return func(s *Searcher) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithIndexFactory sets the constructor used to create the target index for
// each rebuild. Default: an in-memory exact index.
func WithIndexFactory(f func() patterns.VectorIndex) Option {
	return func(s *Searcher) { s.factory = f }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Searcher) { s.metrics = m }
}

// Searcher embeds query text and runs nearest-neighbor searches against the
// active pattern index. Safe for concurrent use; Rebuild may run while
// queries are in flight.
type Searcher struct {
	provider    embeddings.Provider
	factory     func() patterns.VectorIndex
	batchSize   int
	concurrency int
	metrics     *observe.Metrics

	active atomic.Pointer[patterns.VectorIndex]
}

// New creates a [Searcher] using provider for both corpus and query
// embeddings. The index starts empty and unavailable.
func New(provider embeddings.Provider, opts ...Option) *Searcher {
	s := &Searcher{
		provider:    provider,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		factory:     func() patterns.VectorIndex { return memindex.New() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Ready reports whether a query can be served, i.e. an index has been built
// or loaded.
func (s *Searcher) Ready() bool {
	return s.active.Load() != nil
}

// Rebuild embeds every record and swaps in a freshly populated index.
// Embedding runs in batches with bounded concurrency; any failure aborts the
// rebuild and leaves the previously active index untouched.
func (s *Searcher) Rebuild(ctx context.Context, records []patterns.Record) error {
	if len(records) == 0 {
		return errors.New("index: rebuild with empty corpus")
	}
	start := time.Now()

	indexed := make([]patterns.IndexedRecord, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for off := 0; off < len(records); off += s.batchSize {
		lo, hi := off, min(off+s.batchSize, len(records))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i, rec := range records[lo:hi] {
				texts[i] = rec.Phrase
			}
			batchStart := time.Now()
			vectors, err := s.provider.EmbedBatch(gctx, texts)
			s.metrics.EmbedDuration.Record(gctx, time.Since(batchStart).Seconds(),
				metric.WithAttributes(observe.Attr("kind", "embed_batch")))
			if err != nil {
				return fmt.Errorf("index: embed batch [%d,%d): %w", lo, hi, err)
			}
			if len(vectors) != hi-lo {
				return fmt.Errorf("index: embed batch [%d,%d): got %d vectors", lo, hi, len(vectors))
			}
			for i, rec := range records[lo:hi] {
				indexed[lo+i] = patterns.IndexedRecord{Record: rec, Embedding: vectors[i]}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	next := s.factory()
	if err := next.Index(ctx, indexed); err != nil {
		return fmt.Errorf("index: populate: %w", err)
	}
	s.active.Store(&next)
	s.metrics.IndexRebuildDuration.Record(ctx, time.Since(start).Seconds())

	slog.Info("pattern index rebuilt",
		"records", len(records),
		"model", s.provider.ModelID(),
		"duration", time.Since(start),
	)
	return nil
}

// Query embeds text and returns up to topK matches from the active index,
// ordered by descending similarity with ties broken by record id.
// Returns [ErrIndexUnavailable] before the first successful build or load.
func (s *Searcher) Query(ctx context.Context, text string, topK int) ([]patterns.Match, error) {
	idx := s.active.Load()
	if idx == nil {
		return nil, ErrIndexUnavailable
	}

	embedStart := time.Now()
	vector, err := s.provider.Embed(ctx, text)
	s.metrics.EmbedDuration.Record(ctx, time.Since(embedStart).Seconds(),
		metric.WithAttributes(observe.Attr("kind", "embed")))
	if err != nil {
		return nil, fmt.Errorf("index: embed query: %w", err)
	}
	return (*idx).Search(ctx, vector, topK)
}

// Count returns the number of records in the active index, or 0 when no
// index is active.
func (s *Searcher) Count(ctx context.Context) (int, error) {
	idx := s.active.Load()
	if idx == nil {
		return 0, nil
	}
	return (*idx).Count(ctx)
}

// snapshotter is satisfied by indexes that can serialize themselves.
type snapshotter interface {
	WriteSnapshot(w io.Writer, modelID string, dimensions int) error
}

// SaveSnapshot serializes the active index to w, stamped with the provider's
// model id and dimensions so a stale snapshot is rejected on load.
func (s *Searcher) SaveSnapshot(w io.Writer) error {
	idx := s.active.Load()
	if idx == nil {
		return ErrIndexUnavailable
	}
	snap, ok := (*idx).(snapshotter)
	if !ok {
		return fmt.Errorf("index: %T does not support snapshots", *idx)
	}
	return snap.WriteSnapshot(w, s.provider.ModelID(), s.provider.Dimensions())
}

// LoadSnapshot restores a previously saved index and makes it active. The
// snapshot must have been produced with the same embedding model and
// dimensions as the current provider.
func (s *Searcher) LoadSnapshot(r io.Reader) error {
	idx, err := memindex.ReadSnapshot(r, s.provider.ModelID(), s.provider.Dimensions())
	if err != nil {
		return fmt.Errorf("index: load snapshot: %w", err)
	}
	var vi patterns.VectorIndex = idx
	s.active.Store(&vi)
	return nil
}
