// Command wardline is the main entry point for the Wardline call-screening
// service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardline/wardline/internal/app"
	"github.com/wardline/wardline/internal/config"
	"github.com/wardline/wardline/internal/observe"
	"github.com/wardline/wardline/internal/screening"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	replayPath := flag.String("replay", "", "replay a JSONL transcript capture instead of serving, then exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wardline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wardline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("wardline starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "wardline",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Replay mode ───────────────────────────────────────────────────────────
	if *replayPath != "" {
		code := runReplay(ctx, application.Screener(), *replayPath)
		if shutdown(application) != 0 && code == 0 {
			code = 1
		}
		return code
	}

	slog.Info("service ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		shutdown(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	if code := shutdown(application); code != 0 {
		return code
	}
	slog.Info("goodbye")
	return 0
}

// runReplay feeds a captured JSONL transcript through the screener and prints
// the decision tally.
func runReplay(ctx context.Context, s *screening.Screener, path string) int {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("cannot open replay file", "path", path, "err", err)
		return 1
	}
	defer f.Close()

	stats, err := screening.Replay(ctx, s, f)
	if err != nil {
		slog.Error("replay failed", "path", path, "err", err)
		return 1
	}

	slog.Info("replay complete",
		"events", stats.Events,
		"calls_ended", stats.CallsEnded,
	)
	for action, n := range stats.Actions {
		fmt.Printf("%-17s %d\n", action, n)
	}
	return 0
}

func shutdown(application *app.App) int {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Wardline — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if fb := cfg.Providers.EmbeddingsFallback; fb != nil {
		printProvider("Fallback", fb.Name, fb.Model)
	} else {
		printProvider("Fallback", "", "")
	}
	fmt.Printf("║  Corpus sources  : %-19d ║\n", len(cfg.Corpus.Sources))
	if cfg.Corpus.WatchInterval != "" {
		fmt.Printf("║  Corpus watch    : %-19s ║\n", cfg.Corpus.WatchInterval)
	}
	storage := "in-memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	} else if cfg.Storage.SnapshotPath != "" {
		storage = "in-memory + snapshot"
	}
	fmt.Printf("║  Pattern store   : %-19s ║\n", storage)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
