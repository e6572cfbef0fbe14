// Package app wires all Wardline subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the ops HTTP endpoints until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithEmbeddings, WithSink, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardline/wardline/internal/alert"
	"github.com/wardline/wardline/internal/config"
	"github.com/wardline/wardline/internal/corpus"
	"github.com/wardline/wardline/internal/health"
	"github.com/wardline/wardline/internal/index"
	"github.com/wardline/wardline/internal/observe"
	"github.com/wardline/wardline/internal/resilience"
	"github.com/wardline/wardline/internal/screening"
	"github.com/wardline/wardline/pkg/patterns"
	pgstore "github.com/wardline/wardline/pkg/patterns/postgres"
	"github.com/wardline/wardline/pkg/provider/embeddings"
)

// shutdownTimeout bounds the ops HTTP server drain during Run teardown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes for the Wardline screening service.
type App struct {
	cfg *config.Config

	provider embeddings.Provider
	searcher *index.Searcher
	screener *screening.Screener
	sink     alert.Sink
	pg       *pgstore.Store
	watcher  *corpus.Watcher
	metrics  *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithEmbeddings injects an embedding provider instead of creating one from
// the config registry.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithSink injects an incident sink instead of creating one from config.
func WithSink(s alert.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics bundle instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: embedding provider
// (with optional fallback), pattern store, corpus build, index, incident
// sink, and the screening core.
//
// Index availability is not a startup requirement. When no snapshot exists
// the first build runs synchronously, but a build failure only logs: the
// screener serves signal-only decisions until a rebuild succeeds.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initProvider(); err != nil {
		return nil, fmt.Errorf("app: init provider: %w", err)
	}
	if err := a.initIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init index: %w", err)
	}
	a.initSink()

	a.screener = screening.New(a.searcher, a.sink, cfg.Risk.ToPolicy(),
		screening.WithMetrics(a.metrics))
	a.closers = append(a.closers, func() error {
		a.screener.Close()
		return nil
	})

	if err := a.initWatcher(ctx); err != nil {
		return nil, fmt.Errorf("app: init watcher: %w", err)
	}

	return a, nil
}

// Screener exposes the screening core for callers that drive transcript
// updates directly (the replay path, integration harnesses).
func (a *App) Screener() *screening.Screener { return a.screener }

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProvider builds the embedding provider chain from config: the primary
// provider, wrapped in a circuit-breaking fallback when one is configured.
func (a *App) initProvider() error {
	if a.provider != nil {
		return nil // injected
	}

	reg := config.NewRegistry()

	primary, err := reg.CreateEmbeddings(a.cfg.Providers.Embeddings)
	if err != nil {
		return fmt.Errorf("create embeddings provider %q: %w", a.cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("embeddings provider created",
		"name", a.cfg.Providers.Embeddings.Name,
		"model", primary.ModelID(),
	)

	if fb := a.cfg.Providers.EmbeddingsFallback; fb != nil {
		secondary, err := reg.CreateEmbeddings(*fb)
		if err != nil {
			return fmt.Errorf("create fallback embeddings provider %q: %w", fb.Name, err)
		}
		chain := resilience.NewEmbeddingsFallback(primary, a.cfg.Providers.Embeddings.Name, resilience.FallbackConfig{})
		chain.AddFallback(fb.Name, secondary)
		a.provider = chain
		slog.Info("embeddings fallback enabled", "name", fb.Name, "model", secondary.ModelID())
		return nil
	}

	a.provider = primary
	return nil
}

// initIndex sets up the vector index: a pgvector-backed store when a DSN is
// configured, the in-memory index otherwise. It then populates the index
// from a snapshot when available, or from a fresh corpus build.
func (a *App) initIndex(ctx context.Context) error {
	var searcherOpts []index.Option

	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" {
		store, err := pgstore.NewStore(ctx, dsn, a.cfg.Storage.EmbeddingDimensions)
		if err != nil {
			return fmt.Errorf("open pattern store: %w", err)
		}
		a.pg = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		searcherOpts = append(searcherOpts, index.WithIndexFactory(func() patterns.VectorIndex {
			return store
		}))
		slog.Info("pattern store connected", "dimensions", a.cfg.Storage.EmbeddingDimensions)
	}

	searcherOpts = append(searcherOpts, index.WithMetrics(a.metrics))
	a.searcher = index.New(a.provider, searcherOpts...)

	// Snapshot fast path (in-memory index only).
	if path := a.cfg.Storage.SnapshotPath; path != "" && a.pg == nil {
		if f, err := os.Open(path); err == nil {
			loadErr := a.searcher.LoadSnapshot(f)
			f.Close()
			if loadErr == nil {
				slog.Info("index restored from snapshot", "path", path)
				return nil
			}
			slog.Warn("snapshot load failed, rebuilding from corpus", "path", path, "err", loadErr)
		}
	}

	res, err := corpus.Load(ctx, toCorpusSources(a.cfg.Corpus)...)
	if err != nil {
		return fmt.Errorf("build corpus: %w", err)
	}
	a.metrics.IngestWarnings.Add(ctx, int64(len(res.Warnings)))

	if err := a.rebuild(ctx, res.Records); err != nil {
		// Screening degrades to signal-only until a rebuild succeeds.
		slog.Error("initial index build failed, serving signal-only", "err", err)
	}
	return nil
}

// initSink selects the incident sink: a JSONL file when configured, the
// process log otherwise.
func (a *App) initSink() {
	if a.sink != nil {
		return // injected
	}
	if path := a.cfg.Alerting.IncidentFile; path != "" {
		a.sink = alert.NewFileSink(path)
		slog.Info("incident file sink enabled", "path", path)
		return
	}
	a.sink = &alert.LogSink{}
}

// initWatcher starts corpus source polling when watch_interval is set. Each
// successful rebuild swaps the index to the new pattern set.
func (a *App) initWatcher(ctx context.Context) error {
	if a.cfg.Corpus.WatchInterval == "" {
		return nil
	}
	interval, err := time.ParseDuration(a.cfg.Corpus.WatchInterval)
	if err != nil {
		return fmt.Errorf("parse watch_interval: %w", err)
	}

	var fileSources []corpus.FileSource
	for _, src := range toCorpusSources(a.cfg.Corpus) {
		fs, ok := src.(corpus.FileSource)
		if !ok {
			continue
		}
		fileSources = append(fileSources, fs)
	}

	w, err := corpus.NewWatcher(ctx, fileSources, func(_, fresh *corpus.Result) {
		rebuildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()
		if err := a.rebuild(rebuildCtx, fresh.Records); err != nil {
			slog.Error("index rebuild after corpus change failed, keeping previous index", "err", err)
		}
	}, corpus.WithInterval(interval))
	if err != nil {
		return err
	}

	a.watcher = w
	slog.Info("corpus watcher started", "interval", interval, "sources", len(fileSources))
	return nil
}

// rebuild embeds records into the index and refreshes the snapshot and the
// indexed-pattern gauge. On the pgvector path the store replaces its rows
// transactionally, so in-flight queries keep seeing the previous corpus
// until the rebuild commits.
func (a *App) rebuild(ctx context.Context, records []patterns.Record) error {
	prev, _ := a.searcher.Count(ctx)

	if err := a.searcher.Rebuild(ctx, records); err != nil {
		return err
	}
	a.metrics.IndexedPatterns.Add(ctx, int64(len(records)-prev))

	if path := a.cfg.Storage.SnapshotPath; path != "" && a.pg == nil {
		if err := a.saveSnapshot(path); err != nil {
			slog.Warn("snapshot save failed", "path", path, "err", err)
		}
	}
	return nil
}

// saveSnapshot writes the index snapshot atomically via a temp file rename.
func (a *App) saveSnapshot(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := a.searcher.SaveSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// toCorpusSources converts configured corpus sources into loader sources.
func toCorpusSources(cfg config.CorpusConfig) []corpus.Source {
	out := make([]corpus.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		switch sc.Type {
		case config.SourcePhrases:
			out = append(out, &corpus.PhraseListSource{Path: sc.Path, SourceName: sc.Name})
		case config.SourceArticles:
			out = append(out, &corpus.ArticleSource{Path: sc.Path, SourceName: sc.Name, ElderlyOnly: sc.ElderlyOnly})
		}
	}
	return out
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the ops HTTP endpoints (health, readiness, Prometheus metrics)
// and blocks until ctx is cancelled. When no listen address is configured,
// Run simply blocks until cancellation.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		slog.Info("no listen_addr configured, ops endpoints disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	a.registerRoutes(mux)

	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ops server listening", "addr", srv.Addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			err = srv.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: ops server: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("ops server drain error", "err", err)
	}
	return ctx.Err()
}

// registerRoutes wires the health and metrics endpoints onto mux.
func (a *App) registerRoutes(mux *http.ServeMux) {
	checkers := []health.Checker{health.IndexChecker(a.searcher)}
	if a.pg != nil {
		checkers = append(checkers, health.PostgresChecker(a.pg))
	}
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop polling before draining the screener.
		if a.watcher != nil {
			a.watcher.Stop()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
