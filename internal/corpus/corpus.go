// Package corpus builds the scam-pattern corpus from structured sources.
//
// A corpus build is a pure assembly step: each [Source] yields raw records
// (phrase, optional category, optional severity), the builder fills in
// source defaults, deduplicates, and produces the immutable record set that
// the index layer embeds. Sources that turn out to be malformed are skipped
// with a recorded warning — one bad feed must never take down call
// screening, which keeps running on whatever loaded successfully.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wardline/wardline/pkg/patterns"
)

// ErrIngestion marks a malformed corpus source (missing required phrase
// field, undecodable payload). [Load] treats sources failing with this error
// as skippable; any other error aborts the build.
var ErrIngestion = errors.New("malformed corpus source")

// DefaultSeverity is used when neither the record nor its source specifies a
// severity weight.
const DefaultSeverity = 0.6

// RawRecord is a single uncooked entry supplied by a [Source].
type RawRecord struct {
	// Phrase is the pattern text. Required; a source yielding an empty
	// phrase is malformed.
	Phrase string

	// Category classifies the phrase. When empty, the source default applies.
	Category patterns.Category

	// Severity is the severity weight in (0, 1]. When 0, the source default
	// applies.
	Severity float64
}

// Source supplies raw scam-pattern records from one origin (curated phrase
// list, parsed article extracts). Implementations that read external files
// should do all validation inside Records and wrap failures in [ErrIngestion].
type Source interface {
	// Name identifies the source in logs and record IDs
	// (e.g., "curated", "articles-2026-08").
	Name() string

	// Records returns the raw records this source contributes.
	Records(ctx context.Context) ([]RawRecord, error)

	// DefaultCategory is applied to records that carry no category.
	DefaultCategory() patterns.Category

	// DefaultSeverity is applied to records that carry no severity.
	// A zero value falls back to the package-level [DefaultSeverity].
	DefaultSeverity() float64
}

// Warning records a non-fatal problem encountered during a corpus build.
type Warning struct {
	// Source is the name of the offending source.
	Source string

	// Err is the underlying problem.
	Err error
}

// Result is the outcome of a corpus build.
type Result struct {
	// Records is the deduplicated, immutable pattern set in deterministic
	// source order.
	Records []patterns.Record

	// Warnings lists sources that were skipped as malformed.
	Warnings []Warning
}

// Load assembles the corpus from the given sources in order.
//
// Malformed sources (errors matching [ErrIngestion]) are skipped and recorded
// as warnings; any other source error is fatal to the build. Duplicate
// phrases — compared case-insensitively with whitespace collapsed — keep the
// record with the highest severity weight; on equal severity the earliest
// record wins, so source order sets precedence.
//
// Load returns an error when every source failed or the resulting corpus is
// empty: screening without a corpus would silently allow everything.
func Load(ctx context.Context, sources ...Source) (*Result, error) {
	res := &Result{}
	seen := make(map[string]int) // normalized phrase → position in res.Records

	for _, src := range sources {
		raw, err := src.Records(ctx)
		if err != nil {
			if errors.Is(err, ErrIngestion) {
				slog.Warn("corpus: skipping malformed source", "source", src.Name(), "err", err)
				res.Warnings = append(res.Warnings, Warning{Source: src.Name(), Err: err})
				continue
			}
			return nil, fmt.Errorf("corpus: source %q: %w", src.Name(), err)
		}

		// Cook the whole source before committing anything: a malformed
		// record makes the source suspect, and a skipped source must not
		// leave its earlier records behind in the corpus.
		cooked, err := cookAll(src, raw)
		if err != nil {
			slog.Warn("corpus: skipping malformed source", "source", src.Name(), "err", err)
			res.Warnings = append(res.Warnings, Warning{Source: src.Name(), Err: err})
			continue
		}

		for _, rec := range cooked {
			key := normalizePhrase(rec.Phrase)
			if pos, dup := seen[key]; dup {
				if rec.Severity > res.Records[pos].Severity {
					res.Records[pos] = rec
				}
				continue
			}
			seen[key] = len(res.Records)
			res.Records = append(res.Records, rec)
		}
	}

	if len(res.Records) == 0 {
		return nil, fmt.Errorf("corpus: no records loaded from %d source(s)", len(sources))
	}

	slog.Info("corpus loaded",
		"records", len(res.Records),
		"sources", len(sources),
		"skipped_sources", len(res.Warnings),
	)
	return res, nil
}

// cookAll cooks every raw record of one source, failing on the first
// malformed record so the caller can discard the source as a whole.
func cookAll(src Source, raw []RawRecord) ([]patterns.Record, error) {
	cooked := make([]patterns.Record, len(raw))
	for i, rr := range raw {
		rec, err := cook(src, i, rr)
		if err != nil {
			return nil, err
		}
		cooked[i] = rec
	}
	return cooked, nil
}

// cook applies source defaults and validates a raw record.
func cook(src Source, i int, rr RawRecord) (patterns.Record, error) {
	if strings.TrimSpace(rr.Phrase) == "" {
		return patterns.Record{}, fmt.Errorf("%w: source %q record %d has no phrase", ErrIngestion, src.Name(), i)
	}

	cat := rr.Category
	if cat == "" {
		cat = src.DefaultCategory()
	}
	if !cat.IsValid() {
		return patterns.Record{}, fmt.Errorf("%w: source %q record %d has invalid category %q", ErrIngestion, src.Name(), i, cat)
	}

	sev := rr.Severity
	if sev == 0 {
		sev = src.DefaultSeverity()
	}
	if sev == 0 {
		sev = DefaultSeverity
	}
	if sev < 0 || sev > 1 {
		return patterns.Record{}, fmt.Errorf("%w: source %q record %d severity %.2f out of range (0, 1]", ErrIngestion, src.Name(), i, sev)
	}

	return patterns.Record{
		ID:       fmt.Sprintf("%s-%d", src.Name(), i),
		Phrase:   strings.TrimSpace(rr.Phrase),
		Category: cat,
		Severity: sev,
	}, nil
}

// normalizePhrase lowercases and collapses whitespace for duplicate detection.
func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
