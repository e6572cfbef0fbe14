// Package memindex provides an exact in-memory implementation of
// [patterns.VectorIndex].
//
// The index holds every record's embedding in a flat slice and answers
// queries with a full cosine scan. For corpora in the thousands of patterns
// this is faster than approximate structures and, unlike them, fully
// deterministic — which the index contract requires.
//
// The index can be serialized to a JSON snapshot and reloaded on startup so
// the corpus does not need to be re-embedded on every boot. A snapshot
// records the embedding model ID and dimension; loading a snapshot produced
// by a different model fails rather than silently mixing vector spaces.
package memindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/wardline/wardline/pkg/patterns"
)

// Ensure Index implements the patterns.VectorIndex interface.
var _ patterns.VectorIndex = (*Index)(nil)

// Index is an exact in-memory cosine-similarity index over scam patterns.
// All methods are safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	records []patterns.IndexedRecord
	byID    map[string]int
}

// New returns an empty Index.
func New() *Index {
	return &Index{byID: make(map[string]int)}
}

// Index implements [patterns.VectorIndex]. Records with an already-present
// ID replace the stored entry.
func (ix *Index) Index(_ context.Context, records []patterns.IndexedRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, r := range records {
		if r.Record.ID == "" {
			return fmt.Errorf("memindex: record with empty ID (phrase %q)", r.Record.Phrase)
		}
		if pos, ok := ix.byID[r.Record.ID]; ok {
			ix.records[pos] = r
			continue
		}
		ix.byID[r.Record.ID] = len(ix.records)
		ix.records = append(ix.records, r)
	}
	return nil
}

// Search implements [patterns.VectorIndex]. It scans all stored embeddings,
// ranks by descending cosine similarity, and breaks ties by ascending record
// ID. An empty index yields an empty (non-nil) result.
func (ix *Index) Search(_ context.Context, embedding []float32, topK int) ([]patterns.Match, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if topK <= 0 || len(ix.records) == 0 {
		return []patterns.Match{}, nil
	}

	matches := make([]patterns.Match, 0, len(ix.records))
	for _, r := range ix.records {
		matches = append(matches, patterns.Match{
			Record:     r.Record,
			Similarity: cosine(embedding, r.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Record.ID < matches[j].Record.ID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count implements [patterns.VectorIndex].
func (ix *Index) Count(_ context.Context) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.records), nil
}

// cosine returns the cosine similarity of a and b. Mismatched lengths or
// zero-magnitude vectors yield 0 — a query that cannot be compared simply
// does not match anything.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ─────────────────────────────────────────────────────────────────────────────
// Snapshot persistence
// ─────────────────────────────────────────────────────────────────────────────

// snapshotVersion guards against reading snapshots written by incompatible
// future layouts.
const snapshotVersion = 1

// snapshot is the JSON-serialized form of an Index plus the embedding-space
// identity it was built with.
type snapshot struct {
	Version    int              `json:"version"`
	ModelID    string           `json:"model_id"`
	Dimensions int              `json:"dimensions"`
	Records    []snapshotRecord `json:"records"`
}

type snapshotRecord struct {
	ID        string            `json:"id"`
	Phrase    string            `json:"phrase"`
	Category  patterns.Category `json:"category"`
	Severity  float64           `json:"severity"`
	Embedding []float32         `json:"embedding"`
}

// WriteSnapshot serializes the index contents to w together with the
// embedding model identity. modelID and dimensions must describe the
// provider that produced the stored embeddings.
func (ix *Index) WriteSnapshot(w io.Writer, modelID string, dimensions int) error {
	ix.mu.RLock()
	snap := snapshot{
		Version:    snapshotVersion,
		ModelID:    modelID,
		Dimensions: dimensions,
		Records:    make([]snapshotRecord, 0, len(ix.records)),
	}
	for _, r := range ix.records {
		snap.Records = append(snap.Records, snapshotRecord{
			ID:        r.Record.ID,
			Phrase:    r.Record.Phrase,
			Category:  r.Record.Category,
			Severity:  r.Record.Severity,
			Embedding: r.Embedding,
		})
	}
	ix.mu.RUnlock()

	enc := json.NewEncoder(w)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("memindex: write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot deserializes a snapshot from r into a fresh Index. The
// snapshot must have been written for the same embedding model and dimension
// as supplied here, otherwise an error is returned and no index is built.
//
// A round trip through WriteSnapshot/ReadSnapshot produces an index with
// identical Search results to the original.
func ReadSnapshot(r io.Reader, modelID string, dimensions int) (*Index, error) {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("memindex: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("memindex: unsupported snapshot version %d", snap.Version)
	}
	if snap.ModelID != modelID {
		return nil, fmt.Errorf("memindex: snapshot model %q does not match configured model %q", snap.ModelID, modelID)
	}
	if snap.Dimensions != dimensions {
		return nil, fmt.Errorf("memindex: snapshot dimension %d does not match configured dimension %d", snap.Dimensions, dimensions)
	}

	ix := New()
	for _, sr := range snap.Records {
		if len(sr.Embedding) != dimensions {
			return nil, fmt.Errorf("memindex: record %q has embedding of length %d, want %d", sr.ID, len(sr.Embedding), dimensions)
		}
		rec := patterns.IndexedRecord{
			Record: patterns.Record{
				ID:       sr.ID,
				Phrase:   sr.Phrase,
				Category: sr.Category,
				Severity: sr.Severity,
			},
			Embedding: sr.Embedding,
		}
		ix.byID[rec.Record.ID] = len(ix.records)
		ix.records = append(ix.records, rec)
	}
	return ix, nil
}
