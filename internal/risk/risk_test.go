package risk

import (
	"math"
	"testing"

	"github.com/wardline/wardline/internal/signal"
	"github.com/wardline/wardline/pkg/patterns"
)

func match(id string, cat patterns.Category, severity, similarity float64) patterns.Match {
	return patterns.Match{
		Record:     patterns.Record{ID: id, Phrase: id, Category: cat, Severity: severity},
		Similarity: similarity,
	}
}

func sig(flag signal.Flag) signal.Signal {
	return signal.Signal{Flag: flag, Term: string(flag), Weight: flag.Weight()}
}

func TestScore_EmptyInputs(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	a := s.Score(nil, nil)
	if a.Score != 0 {
		t.Errorf("score = %.3f, want 0", a.Score)
	}
	if a.Category != patterns.CategoryNone {
		t.Errorf("category = %q, want none", a.Category)
	}
}

func TestScore_BaseIsSeverityWeightedMax(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	matches := []patterns.Match{
		match("a", patterns.CategoryPrize, 0.5, 0.9),          // 0.45
		match("b", patterns.CategoryImpersonation, 0.9, 0.8),  // 0.72 ← max
		match("c", patterns.CategoryGrandparent, 1.0, 0.6),    // 0.60
	}
	a := s.Score(matches, nil)
	if math.Abs(a.Score-0.72) > 1e-9 {
		t.Errorf("score = %.3f, want 0.72", a.Score)
	}
	if a.Category != patterns.CategoryImpersonation {
		t.Errorf("category = %q, want impersonation (top contributor)", a.Category)
	}
}

func TestScore_SimilarityFloor(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	// Below the 0.25 floor: contributes nothing, category stays none.
	a := s.Score([]patterns.Match{match("a", patterns.CategoryMedicare, 0.9, 0.2)}, nil)
	if a.Score != 0 {
		t.Errorf("score = %.3f, want 0", a.Score)
	}
	if a.Category != patterns.CategoryNone {
		t.Errorf("category = %q, want none", a.Category)
	}
}

func TestScore_SignalBoostCapped(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	signals := []signal.Signal{
		sig(signal.FlagAuthority),       // 0.15
		sig(signal.FlagSensitiveInfo),   // 0.15
		sig(signal.FlagPaymentMethod),   // 0.12 → sum 0.42, capped at 0.30
	}
	a := s.Score(nil, signals)
	if math.Abs(a.Score-0.30) > 1e-9 {
		t.Errorf("score = %.3f, want boost cap 0.30", a.Score)
	}
	if a.Category != patterns.CategoryNone {
		t.Errorf("category = %q, want none for signal-only score", a.Category)
	}
}

func TestScore_ClampedAtOne(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	matches := []patterns.Match{match("a", patterns.CategoryImpersonation, 1.0, 1.0)}
	signals := []signal.Signal{sig(signal.FlagAuthority), sig(signal.FlagUrgency)}
	a := s.Score(matches, signals)
	if a.Score != 1.0 {
		t.Errorf("score = %.3f, want clamp at 1.0", a.Score)
	}
}

func TestScore_RetainsContributors(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	matches := []patterns.Match{match("a", patterns.CategoryWarranty, 0.6, 0.8)}
	signals := []signal.Signal{sig(signal.FlagUrgency)}
	a := s.Score(matches, signals)
	if len(a.Matches) != 1 || a.Matches[0].Record.ID != "a" {
		t.Errorf("matches not retained: %v", a.Matches)
	}
	if len(a.Signals) != 1 || a.Signals[0].Flag != signal.FlagUrgency {
		t.Errorf("signals not retained: %v", a.Signals)
	}
}

func TestScore_IsPure(t *testing.T) {
	s := NewScorer(DefaultPolicy())
	matches := []patterns.Match{match("a", patterns.CategoryPrize, 0.7, 0.7)}
	signals := []signal.Signal{sig(signal.FlagUrgency)}
	first := s.Score(matches, signals)
	second := s.Score(matches, signals)
	if first.Score != second.Score || first.Category != second.Category {
		t.Errorf("identical inputs scored differently: %+v vs %+v", first, second)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	bad := DefaultPolicy()
	bad.TLow = 0.8 // above THigh
	if err := bad.Validate(); err == nil {
		t.Error("expected error for t_low above t_high")
	}

	bad = DefaultPolicy()
	bad.HysteresisWindow = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero hysteresis window")
	}

	bad = DefaultPolicy()
	bad.TopK = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for zero top_k")
	}
}
