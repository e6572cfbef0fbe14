package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wardline/wardline/internal/alert"
	"github.com/wardline/wardline/internal/callstate"
	"github.com/wardline/wardline/internal/config"
	embedmock "github.com/wardline/wardline/pkg/provider/embeddings/mock"
)

const testPhrases = `
default_category: impersonation
default_severity: 0.9
phrases:
  - phrase: "this is the IRS, you owe back taxes"
  - phrase: "pay immediately with gift cards"
  - phrase: "you've won a free cruise"
    category: prize
    severity: 0.6
`

// irsEmbed maps text onto three axes so IRS-flavoured chunks land near the
// IRS phrases, prize chunks near the prize phrase, and everything else
// orthogonal to both.
func irsEmbed(text string) []float32 {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "irs") || strings.Contains(t, "gift card"):
		return []float32{1, 0, 0}
	case strings.Contains(t, "cruise") || strings.Contains(t, "won"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func newTestProvider() *embedmock.Provider {
	return &embedmock.Provider{
		EmbedFunc:       irsEmbed,
		DimensionsValue: 3,
		ModelIDValue:    "mock-embed",
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	if err := os.WriteFile(path, []byte(testPhrases), 0o644); err != nil {
		t.Fatalf("write phrases: %v", err)
	}
	return &config.Config{
		Providers: config.ProvidersConfig{
			Embeddings: config.ProviderEntry{Name: "openai", APIKey: "unused"},
		},
		Corpus: config.CorpusConfig{
			Sources: []config.SourceConfig{{Type: config.SourcePhrases, Path: path}},
		},
	}
}

type dropSink struct{}

func (dropSink) Emit(context.Context, alert.Incident) error { return nil }

func TestNew_ScreensEndToEnd(t *testing.T) {
	a, err := New(context.Background(), testConfig(t),
		WithEmbeddings(newTestProvider()),
		WithSink(dropSink{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if !a.searcher.Ready() {
		t.Fatal("index should be built at startup")
	}
	if n, _ := a.searcher.Count(context.Background()); n != 3 {
		t.Errorf("indexed patterns = %d, want 3", n)
	}

	res := a.Screener().OnTranscriptUpdate(context.Background(),
		"call-1", "this is the IRS, pay immediately with gift cards", time.Time{})
	if res.Action != callstate.ActionBlock {
		t.Errorf("action = %q, want block", res.Action)
	}

	res = a.Screener().OnTranscriptUpdate(context.Background(),
		"call-2", "your dentist appointment is tomorrow", time.Time{})
	if res.Action != callstate.ActionAllow {
		t.Errorf("benign action = %q, want allow", res.Action)
	}
}

func TestNew_SnapshotRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.SnapshotPath = filepath.Join(t.TempDir(), "index.snapshot")

	a, err := New(context.Background(), cfg,
		WithEmbeddings(newTestProvider()),
		WithSink(dropSink{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Shutdown(context.Background())

	if _, err := os.Stat(cfg.Storage.SnapshotPath); err != nil {
		t.Fatalf("snapshot should exist after first build: %v", err)
	}

	// Second boot restores from the snapshot without embedding the corpus.
	provider := newTestProvider()
	b, err := New(context.Background(), cfg,
		WithEmbeddings(provider),
		WithSink(dropSink{}),
	)
	if err != nil {
		t.Fatalf("New (snapshot boot): %v", err)
	}
	defer b.Shutdown(context.Background())

	if len(provider.EmbedBatchCalls) != 0 {
		t.Errorf("snapshot boot should not embed the corpus, got %d batch calls", len(provider.EmbedBatchCalls))
	}
	if n, _ := b.searcher.Count(context.Background()); n != 3 {
		t.Errorf("restored patterns = %d, want 3", n)
	}
}

func TestNew_WatcherRebuildsOnSourceChange(t *testing.T) {
	cfg := testConfig(t)
	cfg.Corpus.WatchInterval = "50ms"

	a, err := New(context.Background(), cfg,
		WithEmbeddings(newTestProvider()),
		WithSink(dropSink{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	extended := testPhrases + `  - phrase: "grandma I'm in jail and need bail money"
    category: grandparent
    severity: 0.8
`
	if err := os.WriteFile(cfg.Corpus.Sources[0].Path, []byte(extended), 0o644); err != nil {
		t.Fatalf("rewrite phrases: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := a.searcher.Count(context.Background()); n == 4 {
			break
		}
		if time.Now().After(deadline) {
			n, _ := a.searcher.Count(context.Background())
			t.Fatalf("index was not rebuilt after source change, count = %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRegisterRoutes_HealthAndMetrics(t *testing.T) {
	a, err := New(context.Background(), testConfig(t),
		WithEmbeddings(newTestProvider()),
		WithSink(dropSink{}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	mux := http.NewServeMux()
	a.registerRoutes(mux)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestNew_MissingCorpusFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Corpus.Sources[0].Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg,
		WithEmbeddings(newTestProvider()),
		WithSink(dropSink{}),
	)
	if err == nil {
		t.Fatal("expected error when every corpus source is missing, got nil")
	}
}
