package callstate

import (
	"fmt"
	"time"

	"github.com/wardline/wardline/internal/risk"
	"github.com/wardline/wardline/pkg/patterns"
)

// Decision is the outcome of applying one assessment to a session.
type Decision struct {
	Action Action
	State  State
	Reason string

	// Escalated is true when this update moved the session into Warning,
	// Blocked, or TransferredFamily — the transitions that emit incidents.
	Escalated bool
}

// Engine maps assessments to state transitions under a fixed policy.
// Safe for concurrent use; all mutable state lives in the Session.
type Engine struct {
	policy risk.Policy
}

// NewEngine returns an Engine applying the given policy.
func NewEngine(policy risk.Policy) *Engine {
	return &Engine{policy: policy}
}

// Apply records the assessment in the session history and evaluates the
// state machine. The caller must hold the session's update lock.
//
// Transition rules:
//
//   - Terminal states never change; the current action is repeated.
//   - score ≥ THigh: immediate Blocked (impersonation, medicare, warranty)
//     or TransferredFamily (everything else). A single sample suffices —
//     high-band hits are too dangerous to wait on.
//   - TLow ≤ score < THigh: Normal moves to Watching at once; Watching moves
//     to Warning only after HysteresisWindow consecutive qualifying samples.
//   - score < TLow: after HysteresisWindow consecutive low samples a
//     non-terminal session steps down one level toward Normal.
func (e *Engine) Apply(s *Session, a risk.Assessment, now time.Time) Decision {
	d := e.transition(s, a)

	s.State = d.State
	s.Action = d.Action
	s.UpdatedAt = now
	s.History = append(s.History, HistoryEntry{
		At:         now,
		Assessment: a,
		State:      d.State,
		Action:     d.Action,
	})
	return d
}

func (e *Engine) transition(s *Session, a risk.Assessment) Decision {
	if s.State.Terminal() {
		return Decision{
			Action: s.Action,
			State:  s.State,
			Reason: fmt.Sprintf("state %s is terminal, action held", s.State),
		}
	}

	switch {
	case a.Score >= e.policy.THigh:
		s.aboveLow = 0
		s.belowLow = 0
		return e.highBand(a)

	case a.Score >= e.policy.TLow:
		s.aboveLow++
		s.belowLow = 0
		return e.midBand(s, a)

	default:
		s.aboveLow = 0
		s.belowLow++
		return e.lowBand(s, a)
	}
}

// highBand picks between the two terminal outcomes. Authority impersonation
// and its insurance/warranty variants are cut off outright; ambiguous
// categories route to a family member who can verify the story.
func (e *Engine) highBand(a risk.Assessment) Decision {
	if blockOutright(a.Category) {
		return Decision{
			Action:    ActionBlock,
			State:     StateBlocked,
			Reason:    fmt.Sprintf("score %.2f at or above %.2f, category %s", a.Score, e.policy.THigh, a.Category),
			Escalated: true,
		}
	}
	return Decision{
		Action:    ActionTransferFamily,
		State:     StateTransferredFamily,
		Reason:    fmt.Sprintf("score %.2f at or above %.2f, category %s, transferring to family", a.Score, e.policy.THigh, a.Category),
		Escalated: true,
	}
}

func (e *Engine) midBand(s *Session, a risk.Assessment) Decision {
	switch s.State {
	case StateNormal:
		return Decision{
			Action: ActionAllow,
			State:  StateWatching,
			Reason: fmt.Sprintf("score %.2f entered watch band, awaiting confirmation", a.Score),
		}

	case StateWatching:
		if s.aboveLow < e.policy.HysteresisWindow {
			return Decision{
				Action: ActionAllow,
				State:  StateWatching,
				Reason: fmt.Sprintf("score %.2f in watch band, %d/%d qualifying samples", a.Score, s.aboveLow, e.policy.HysteresisWindow),
			}
		}
		return Decision{
			Action:    warningAction(a.Category),
			State:     StateWarning,
			Reason:    fmt.Sprintf("score %.2f sustained for %d consecutive samples, category %s", a.Score, s.aboveLow, a.Category),
			Escalated: true,
		}

	default: // StateWarning holds the action latched at escalation.
		return Decision{
			Action: s.Action,
			State:  StateWarning,
			Reason: fmt.Sprintf("score %.2f still in watch band, action held", a.Score),
		}
	}
}

func (e *Engine) lowBand(s *Session, a risk.Assessment) Decision {
	if s.State != StateNormal && s.belowLow >= e.policy.HysteresisWindow {
		s.belowLow = 0
		next := stepDown(s.State)
		return Decision{
			Action: actionFor(next, s.Action),
			State:  next,
			Reason: fmt.Sprintf("score %.2f below %.2f for %d consecutive samples, de-escalating to %s", a.Score, e.policy.TLow, e.policy.HysteresisWindow, next),
		}
	}
	return Decision{
		Action: s.Action,
		State:  s.State,
		Reason: fmt.Sprintf("score %.2f below %.2f, holding %s", a.Score, e.policy.TLow, s.State),
	}
}

// blockOutright reports whether a high-band hit in this category warrants an
// immediate block rather than a family transfer.
func blockOutright(c patterns.Category) bool {
	switch c {
	case patterns.CategoryImpersonation, patterns.CategoryMedicare, patterns.CategoryWarranty:
		return true
	}
	return false
}

// warningAction maps the warning state to its caller-facing action. Family
// emergency impostors are best defused by a monitored transfer to a real
// family member; other categories get an in-call warning prompt.
func warningAction(c patterns.Category) Action {
	if c == patterns.CategoryGrandparent {
		return ActionTransferMonitor
	}
	return ActionWarn
}

// stepDown returns the next state one level toward Normal. Terminal states
// never reach here.
func stepDown(s State) State {
	switch s {
	case StateWarning:
		return StateWatching
	case StateWatching:
		return StateNormal
	}
	return s
}

// actionFor returns the action matching a de-escalated state. Dropping out
// of Warning clears the caller-facing action back to allow.
func actionFor(s State, held Action) Action {
	switch s {
	case StateNormal, StateWatching:
		return ActionAllow
	}
	return held
}
