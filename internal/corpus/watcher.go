package corpus

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// FileSource is a [Source] backed by a file on disk, which makes it
// watchable for changes.
type FileSource interface {
	Source

	// FilePath returns the location of the backing file.
	FilePath() string
}

// Watcher monitors corpus source files for changes and rebuilds the corpus
// when any of them is modified. It uses polling (not fsnotify) to keep
// dependencies minimal.
type Watcher struct {
	sources  []FileSource
	interval time.Duration
	onChange func(old, new *Result)

	mu       sync.Mutex
	current  *Result
	done     chan struct{}
	stopOnce sync.Once

	// last known file state per path for change detection
	states map[string]fileState
}

type fileState struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 minutes.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a corpus source watcher. It builds the initial corpus
// immediately and starts polling in a background goroutine. The onChange
// callback receives the previous and freshly rebuilt corpus whenever any
// source file's content changes.
func NewWatcher(ctx context.Context, sources []FileSource, onChange func(old, new *Result), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		sources:  sources,
		interval: 5 * time.Minute,
		onChange: onChange,
		done:     make(chan struct{}),
		states:   make(map[string]fileState, len(sources)),
	}
	for _, opt := range opts {
		opt(w)
	}

	// Build initial corpus.
	res, states, err := w.loadAndHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("corpus: watcher initial build: %w", err)
	}
	w.current = res
	w.states = states

	go w.poll(ctx)
	return w, nil
}

// Current returns the most recently built corpus.
func (w *Watcher) Current() *Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll runs in a background goroutine, checking the source files periodically.
func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

// check inspects the source files and, if any has changed and the rebuild
// succeeds, calls onChange and updates the current corpus. A failed rebuild
// keeps the previous corpus: screening continues on the last good pattern set.
func (w *Watcher) check(ctx context.Context) {
	// Quick mtime pass first to avoid hashing unchanged files.
	if !w.anyMtimeChanged() {
		return
	}

	res, states, err := w.loadAndHash(ctx)
	if err != nil {
		slog.Warn("corpus watcher: rebuild failed, keeping previous corpus", "err", err)
		return
	}

	w.mu.Lock()

	if statesEqualHashes(w.states, states) {
		// Files were touched but content is identical.
		w.states = states
		w.mu.Unlock()
		return
	}

	old := w.current
	w.current = res
	w.states = states
	w.mu.Unlock()

	slog.Info("corpus watcher: corpus rebuilt",
		"records", len(res.Records),
		"warnings", len(res.Warnings),
	)

	// Invoke the callback outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, res)
	}
}

// anyMtimeChanged reports whether any watched file's modification time
// differs from the last observed one. Stat failures count as changed so the
// full reload path surfaces the problem.
func (w *Watcher) anyMtimeChanged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, src := range w.sources {
		path := src.FilePath()
		info, err := os.Stat(path)
		if err != nil {
			slog.Warn("corpus watcher: cannot stat source", "path", path, "err", err)
			return true
		}
		if !info.ModTime().Equal(w.states[path].mtime) {
			return true
		}
	}
	return false
}

// loadAndHash rebuilds the corpus from all sources and returns it alongside
// the per-file state used for change detection.
func (w *Watcher) loadAndHash(ctx context.Context) (*Result, map[string]fileState, error) {
	states := make(map[string]fileState, len(w.sources))
	for _, src := range w.sources {
		path := src.FilePath()
		data, err := os.ReadFile(path)
		if err != nil {
			// An unreadable file will be reported by Load as a skipped
			// source; record a zero state so the next poll retries it.
			states[path] = fileState{}
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			states[path] = fileState{hash: sha256.Sum256(data)}
			continue
		}
		states[path] = fileState{mtime: info.ModTime(), hash: sha256.Sum256(data)}
	}

	srcs := make([]Source, len(w.sources))
	for i, s := range w.sources {
		srcs[i] = s
	}
	res, err := Load(ctx, srcs...)
	if err != nil {
		return nil, nil, err
	}
	return res, states, nil
}

func statesEqualHashes(a, b map[string]fileState) bool {
	if len(a) != len(b) {
		return false
	}
	for path, st := range a {
		if b[path].hash != st.hash {
			return false
		}
	}
	return true
}
