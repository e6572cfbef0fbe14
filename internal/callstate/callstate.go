// Package callstate tracks per-call risk state and turns risk assessments
// into call-control decisions.
//
// Each live call owns one [Session] holding its assessment history and its
// position in a five-state machine:
//
//	Normal → Watching → Warning → Blocked / TransferredFamily
//
// Escalation into the warning band requires consecutive qualifying samples
// (hysteresis), so a single noisy mid-band assessment never changes the
// caller-facing action. Blocked and TransferredFamily are terminal: once a
// call is cut off or handed to family, later transcript updates are recorded
// for audit but can no longer change the action.
package callstate

import (
	"time"

	"github.com/wardline/wardline/internal/risk"
	"github.com/wardline/wardline/pkg/patterns"
)

// State is a session's position in the screening state machine.
type State string

const (
	StateNormal            State = "normal"
	StateWatching          State = "watching"
	StateWarning           State = "warning"
	StateBlocked           State = "blocked"
	StateTransferredFamily State = "transferred_family"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateBlocked || s == StateTransferredFamily
}

// Action is the call-control instruction handed to the telephony layer.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionWarn            Action = "warn"
	ActionBlock           Action = "block"
	ActionTransferFamily  Action = "transfer_family"
	ActionTransferMonitor Action = "transfer_monitor"
)

// HistoryEntry records one applied assessment together with the decision it
// produced.
type HistoryEntry struct {
	At         time.Time
	Assessment risk.Assessment
	State      State
	Action     Action
}

// Session is the mutable per-call record. It is not safe for concurrent use;
// callers must serialize updates for the same call id.
type Session struct {
	CallID    string
	State     State
	Action    Action
	CreatedAt time.Time
	UpdatedAt time.Time
	History   []HistoryEntry

	// Consecutive-sample counters backing the hysteresis rules. Exactly one
	// is non-zero at a time.
	aboveLow int
	belowLow int
}

func newSession(callID string, now time.Time) *Session {
	return &Session{
		CallID:    callID,
		State:     StateNormal,
		Action:    ActionAllow,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Summary condenses a finished session for post-call reporting.
type Summary struct {
	CallID     string
	CreatedAt  time.Time
	EndedAt    time.Time
	FinalState State
	Action     Action
	Updates    int
	MaxScore   float64
	Category   patterns.Category
}

// summarize builds the post-call summary from the session history. The
// reported category is the one attached to the highest-scoring assessment.
func (s *Session) summarize(endedAt time.Time) Summary {
	sum := Summary{
		CallID:     s.CallID,
		CreatedAt:  s.CreatedAt,
		EndedAt:    endedAt,
		FinalState: s.State,
		Action:     s.Action,
		Updates:    len(s.History),
		Category:   patterns.CategoryNone,
	}
	for _, h := range s.History {
		if h.Assessment.Score >= sum.MaxScore {
			sum.MaxScore = h.Assessment.Score
			if h.Assessment.Category != patterns.CategoryNone {
				sum.Category = h.Assessment.Category
			}
		}
	}
	return sum
}
