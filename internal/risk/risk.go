// Package risk fuses vector-similarity matches and normalized transcript
// signals into a single calibrated risk assessment.
//
// Scoring is pure and explainable by construction: every [Assessment] keeps
// the matches and signals that produced it, so an incident record can show
// exactly why a call was flagged.
package risk

import (
	"errors"
	"fmt"

	"github.com/wardline/wardline/internal/signal"
	"github.com/wardline/wardline/pkg/patterns"
)

// Policy holds every tunable threshold of the decision core in one place.
// The scorer and the session decision engine are both constructed from the
// same Policy so the thresholds cannot drift apart.
type Policy struct {
	// TLow is the watch threshold: assessments scoring at or above it count
	// toward escalation into the warning band.
	TLow float64

	// THigh is the high-risk threshold: a single assessment at or above it
	// triggers an immediate block or family transfer.
	THigh float64

	// HysteresisWindow is the number of consecutive qualifying assessments
	// required before the mid-band escalates or any state de-escalates.
	HysteresisWindow int

	// TopK is how many nearest patterns are retrieved per transcript update.
	TopK int

	// SimilarityFloor is the minimum similarity for a match to contribute to
	// the base score or the category label.
	SimilarityFloor float64

	// BoostCap limits the total additive contribution of transcript signals.
	BoostCap float64
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		TLow:             0.30,
		THigh:            0.70,
		HysteresisWindow: 2,
		TopK:             5,
		SimilarityFloor:  0.25,
		BoostCap:         0.30,
	}
}

// Validate checks internal consistency of the policy.
func (p Policy) Validate() error {
	var errs []error
	if p.TLow <= 0 || p.TLow >= 1 {
		errs = append(errs, fmt.Errorf("t_low %.2f outside (0, 1)", p.TLow))
	}
	if p.THigh <= 0 || p.THigh > 1 {
		errs = append(errs, fmt.Errorf("t_high %.2f outside (0, 1]", p.THigh))
	}
	if p.TLow >= p.THigh {
		errs = append(errs, fmt.Errorf("t_low %.2f must be below t_high %.2f", p.TLow, p.THigh))
	}
	if p.HysteresisWindow < 1 {
		errs = append(errs, fmt.Errorf("hysteresis_window %d must be at least 1", p.HysteresisWindow))
	}
	if p.TopK < 1 {
		errs = append(errs, fmt.Errorf("top_k %d must be at least 1", p.TopK))
	}
	if p.SimilarityFloor < 0 || p.SimilarityFloor >= 1 {
		errs = append(errs, fmt.Errorf("similarity_floor %.2f outside [0, 1)", p.SimilarityFloor))
	}
	if p.BoostCap < 0 || p.BoostCap > 1 {
		errs = append(errs, fmt.Errorf("boost_cap %.2f outside [0, 1]", p.BoostCap))
	}
	return errors.Join(errs...)
}

// Assessment is the scored outcome of one transcript update. Immutable once
// produced.
type Assessment struct {
	// Score is the fused risk estimate in [0, 1].
	Score float64

	// Category labels the dominant scam family, or [patterns.CategoryNone]
	// when no match cleared the similarity floor.
	Category patterns.Category

	// Matches are the retrieved nearest patterns, descending by similarity.
	Matches []patterns.Match

	// Signals are the normalized transcript markers for this chunk.
	Signals []signal.Signal
}

// Scorer computes assessments under a fixed policy. Safe for concurrent use.
type Scorer struct {
	policy Policy
}

// NewScorer returns a Scorer applying the given policy.
func NewScorer(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Score fuses matches and signals into an [Assessment].
//
// The base score is the severity-weighted maximum similarity across matches
// that clear the similarity floor. The signal boost adds each signal's
// weight, capped at the policy's BoostCap. The final score is clamped to
// [0, 1]. The category comes from the match contributing the base score;
// when no match clears the floor the category is none and the score is the
// boost alone.
func (s *Scorer) Score(matches []patterns.Match, signals []signal.Signal) Assessment {
	base := 0.0
	category := patterns.CategoryNone
	for _, m := range matches {
		if m.Similarity < s.policy.SimilarityFloor {
			continue
		}
		if c := m.Similarity * m.Record.Severity; c > base {
			base = c
			category = m.Record.Category
		}
	}

	boost := 0.0
	for _, sig := range signals {
		boost += sig.Weight
	}
	if boost > s.policy.BoostCap {
		boost = s.policy.BoostCap
	}

	return Assessment{
		Score:    clamp01(base + boost),
		Category: category,
		Matches:  matches,
		Signals:  signals,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
