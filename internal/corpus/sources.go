package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wardline/wardline/pkg/patterns"
)

// ─────────────────────────────────────────────────────────────────────────────
// Curated phrase list (YAML)
// ─────────────────────────────────────────────────────────────────────────────

// phraseListDoc is the YAML schema of a curated phrase-list file:
//
//	default_category: impersonation
//	default_severity: 0.7
//	phrases:
//	  - phrase: "this is the IRS, you owe back taxes"
//	    category: impersonation
//	    severity: 0.9
//	  - phrase: "you've won a free cruise"
//	    category: prize
type phraseListDoc struct {
	DefaultCategory patterns.Category `yaml:"default_category"`
	DefaultSeverity float64           `yaml:"default_severity"`
	Phrases         []phraseEntry     `yaml:"phrases"`
}

type phraseEntry struct {
	Phrase   string            `yaml:"phrase"`
	Category patterns.Category `yaml:"category"`
	Severity float64           `yaml:"severity"`
}

// PhraseListSource loads curated scam phrases from a YAML file.
type PhraseListSource struct {
	// Path is the phrase-list file location.
	Path string

	// SourceName overrides the name used in logs and record IDs.
	// Empty means "curated".
	SourceName string

	doc phraseListDoc
}

var _ FileSource = (*PhraseListSource)(nil)

// FilePath implements [FileSource].
func (s *PhraseListSource) FilePath() string { return s.Path }

// Name implements [Source].
func (s *PhraseListSource) Name() string {
	if s.SourceName != "" {
		return s.SourceName
	}
	return "curated"
}

// Records implements [Source]. Decode failures and entries without a phrase
// are reported as [ErrIngestion].
func (s *PhraseListSource) Records(_ context.Context) ([]RawRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrIngestion, s.Path, err)
	}
	defer f.Close()
	return s.decode(f)
}

func (s *PhraseListSource) decode(r io.Reader) ([]RawRecord, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s.doc); err != nil {
		return nil, fmt.Errorf("%w: decode phrase list: %v", ErrIngestion, err)
	}

	records := make([]RawRecord, 0, len(s.doc.Phrases))
	for i, e := range s.doc.Phrases {
		if strings.TrimSpace(e.Phrase) == "" {
			return nil, fmt.Errorf("%w: phrases[%d] has no phrase field", ErrIngestion, i)
		}
		records = append(records, RawRecord{
			Phrase:   e.Phrase,
			Category: e.Category,
			Severity: e.Severity,
		})
	}
	return records, nil
}

// DefaultCategory implements [Source].
func (s *PhraseListSource) DefaultCategory() patterns.Category {
	if s.doc.DefaultCategory != "" {
		return s.doc.DefaultCategory
	}
	return patterns.CategoryOther
}

// DefaultSeverity implements [Source].
func (s *PhraseListSource) DefaultSeverity() float64 {
	return s.doc.DefaultSeverity
}

// ─────────────────────────────────────────────────────────────────────────────
// Parsed scam-article extracts (JSON)
// ─────────────────────────────────────────────────────────────────────────────

// articleDoc is the JSON schema produced by the article-ingestion
// collaborator. Each article carries indicator phrases extracted from the
// article body plus coarse metadata.
type articleDoc struct {
	Articles []article `json:"articles"`
}

type article struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	ScamIndicators  []string `json:"scam_indicators"`
	ElderlySpecific bool     `json:"elderly_specific"`
	UrgencyLevel    string   `json:"urgency_level"`
	Region          string   `json:"region"`
	Date            string   `json:"date"`
}

// ArticleSource loads scam patterns from a parsed-article extract file. Each
// article contributes its headline phrase and every extracted indicator as
// separate records, categorised from the indicator keywords and weighted by
// the article's urgency level.
type ArticleSource struct {
	// Path is the article extract file location.
	Path string

	// SourceName overrides the name used in logs and record IDs.
	// Empty means "articles".
	SourceName string

	// ElderlyOnly restricts the source to articles flagged elderly_specific.
	ElderlyOnly bool
}

var _ FileSource = (*ArticleSource)(nil)

// FilePath implements [FileSource].
func (s *ArticleSource) FilePath() string { return s.Path }

// Name implements [Source].
func (s *ArticleSource) Name() string {
	if s.SourceName != "" {
		return s.SourceName
	}
	return "articles"
}

// Records implements [Source].
func (s *ArticleSource) Records(_ context.Context) ([]RawRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q: %v", ErrIngestion, s.Path, err)
	}
	defer f.Close()
	return s.decode(f)
}

func (s *ArticleSource) decode(r io.Reader) ([]RawRecord, error) {
	var doc articleDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode article extracts: %v", ErrIngestion, err)
	}

	var records []RawRecord
	for i, a := range doc.Articles {
		if s.ElderlyOnly && !a.ElderlySpecific {
			continue
		}
		if strings.TrimSpace(a.Title) == "" {
			return nil, fmt.Errorf("%w: articles[%d] has no title", ErrIngestion, i)
		}

		cat := classifyIndicators(a.Title, a.ScamIndicators)
		sev := urgencySeverity(a.UrgencyLevel)

		records = append(records, RawRecord{Phrase: a.Title, Category: cat, Severity: sev})
		for _, ind := range a.ScamIndicators {
			if strings.TrimSpace(ind) == "" {
				continue
			}
			records = append(records, RawRecord{Phrase: ind, Category: cat, Severity: sev})
		}
	}
	return records, nil
}

// DefaultCategory implements [Source]. Articles are always classified from
// their indicators, so the default only covers the degenerate keyword-free
// case.
func (s *ArticleSource) DefaultCategory() patterns.Category {
	return patterns.CategoryOther
}

// DefaultSeverity implements [Source].
func (s *ArticleSource) DefaultSeverity() float64 {
	return DefaultSeverity
}

// classifyIndicators maps indicator keywords to a pattern category.
// First matching scheme wins; order reflects specificity.
func classifyIndicators(title string, indicators []string) patterns.Category {
	text := strings.ToLower(title + " " + strings.Join(indicators, " "))

	switch {
	case containsAny(text, "grandchild", "grandson", "granddaughter", "bail", "family emergency"):
		return patterns.CategoryGrandparent
	case containsAny(text, "irs", "tax", "fbi", "social security", "arrest warrant", "police"):
		return patterns.CategoryImpersonation
	case containsAny(text, "medicare", "medicaid", "health insurance", "benefits card"):
		return patterns.CategoryMedicare
	case containsAny(text, "prize", "lottery", "sweepstake", "winner", "jackpot"):
		return patterns.CategoryPrize
	case containsAny(text, "warranty", "car warranty", "service contract"):
		return patterns.CategoryWarranty
	default:
		return patterns.CategoryOther
	}
}

// urgencySeverity maps an article urgency level to a severity weight.
func urgencySeverity(level string) float64 {
	switch strings.ToLower(level) {
	case "high", "critical":
		return 0.9
	case "medium":
		return 0.7
	case "low":
		return 0.5
	default:
		return 0 // falls through to the source default
	}
}

// containsAny reports whether text contains at least one of the needles.
func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
