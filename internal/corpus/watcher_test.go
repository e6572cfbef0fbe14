package corpus_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wardline/wardline/internal/corpus"
)

const watcherInitialPhrases = `
default_category: impersonation
phrases:
  - phrase: "this is the IRS calling about back taxes"
    severity: 0.9
  - phrase: "you've won a free cruise"
    category: prize
`

const watcherUpdatedPhrases = `
default_category: impersonation
phrases:
  - phrase: "this is the IRS calling about back taxes"
    severity: 0.9
  - phrase: "you've won a free cruise"
    category: prize
  - phrase: "your grandson has been in an accident"
    category: grandparent
    severity: 0.8
`

const watcherMalformedPhrases = `
phrases:
  - category: prize
`

func writePhraseFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func TestWatcher_InitialBuild(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	writePhraseFile(t, path, watcherInitialPhrases)

	w, err := corpus.NewWatcher(context.Background(),
		[]corpus.FileSource{&corpus.PhraseListSource{Path: path}},
		nil, corpus.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	res := w.Current()
	if res == nil {
		t.Fatal("Current() returned nil after initial build")
	}
	if len(res.Records) != 2 {
		t.Errorf("records: got %d, want 2", len(res.Records))
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	writePhraseFile(t, path, watcherInitialPhrases)

	var mu sync.Mutex
	var gotOld, gotNew *corpus.Result
	called := make(chan struct{}, 1)

	w, err := corpus.NewWatcher(context.Background(),
		[]corpus.FileSource{&corpus.PhraseListSource{Path: path}},
		func(old, new *corpus.Result) {
			mu.Lock()
			gotOld = old
			gotNew = new
			mu.Unlock()
			select {
			case called <- struct{}{}:
			default:
			}
		}, corpus.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Give the initial poll a moment, then update the file.
	time.Sleep(100 * time.Millisecond)
	writePhraseFile(t, path, watcherUpdatedPhrases)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if gotOld == nil || gotNew == nil {
		t.Fatal("callback received nil results")
	}
	if len(gotOld.Records) != 2 {
		t.Errorf("old records: got %d, want 2", len(gotOld.Records))
	}
	if len(gotNew.Records) != 3 {
		t.Errorf("new records: got %d, want 3", len(gotNew.Records))
	}

	if cur := w.Current(); len(cur.Records) != 3 {
		t.Errorf("Current() records: got %d, want 3", len(cur.Records))
	}
}

func TestWatcher_MalformedRebuildKeepsOldCorpus(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	writePhraseFile(t, path, watcherInitialPhrases)

	callCount := 0
	var mu sync.Mutex

	w, err := corpus.NewWatcher(context.Background(),
		[]corpus.FileSource{&corpus.PhraseListSource{Path: path}},
		func(old, new *corpus.Result) {
			mu.Lock()
			callCount++
			mu.Unlock()
		}, corpus.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// A phrase list missing the phrase field fails the whole single-source
	// build, so the previous corpus must stay in place.
	time.Sleep(100 * time.Millisecond)
	writePhraseFile(t, path, watcherMalformedPhrases)

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	calls := callCount
	mu.Unlock()

	if calls != 0 {
		t.Errorf("callback should not fire for a failed rebuild, got %d calls", calls)
	}
	if cur := w.Current(); len(cur.Records) != 2 {
		t.Errorf("Current() should keep the old corpus, got %d records", len(cur.Records))
	}
}

func TestWatcher_InitialBuildFails(t *testing.T) {
	t.Parallel()
	_, err := corpus.NewWatcher(context.Background(),
		[]corpus.FileSource{&corpus.PhraseListSource{Path: "/nonexistent/phrases.yaml"}},
		nil)
	if err == nil {
		t.Fatal("expected error for non-existent source file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	writePhraseFile(t, path, watcherInitialPhrases)

	w, err := corpus.NewWatcher(context.Background(),
		[]corpus.FileSource{&corpus.PhraseListSource{Path: path}},
		nil, corpus.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "phrases.yaml")
	writePhraseFile(t, path, watcherInitialPhrases)

	callCount := 0
	var mu sync.Mutex

	w, err := corpus.NewWatcher(context.Background(),
		[]corpus.FileSource{&corpus.PhraseListSource{Path: path}},
		func(old, new *corpus.Result) {
			mu.Lock()
			callCount++
			mu.Unlock()
		}, corpus.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Touch the file (update mtime) without changing content.
	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if callCount != 0 {
		t.Errorf("callback should not fire for a content-identical touch, got %d calls", callCount)
	}
}
