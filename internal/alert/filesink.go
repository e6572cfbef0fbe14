package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink persists incidents as append-only JSON lines in a local file,
// one object per escalation. Suitable for single-node deployments and for
// feeding the post-call review tooling; larger installations should replace
// it with a database-backed sink.
//
// Thread-safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	path string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a FileSink writing to path. The file is created on
// first emit if it does not exist.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Emit implements [Sink].
func (s *FileSink) Emit(_ context.Context, inc Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(inc)
	if err != nil {
		return fmt.Errorf("alert: marshal incident: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("alert: open incident file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("alert: write incident: %w", err)
	}
	return nil
}
