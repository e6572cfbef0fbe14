// Package alert defines the outbound incident contract of the screening
// core.
//
// The core emits an [Incident] whenever a session escalates into Warning,
// Blocked, or TransferredFamily. Delivery guarantees (retries, family
// notification fan-out) belong to the consuming collaborator; the sinks here
// cover local logging and an append-only incident file.
package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/wardline/internal/callstate"
	"github.com/wardline/wardline/internal/risk"
	"github.com/wardline/wardline/pkg/patterns"
)

// Incident is one escalation event. It carries the full contributing
// evidence so a reviewer can reconstruct the decision without replaying the
// call.
type Incident struct {
	ID        string            `json:"id"`
	CallID    string            `json:"call_id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    callstate.Action  `json:"action"`
	State     callstate.State   `json:"state"`
	Reason    string            `json:"reason"`
	RiskScore float64           `json:"risk_score"`
	Category  patterns.Category `json:"category"`
	Matches   []patterns.Match  `json:"matches,omitempty"`
	Signals   []signalRecord    `json:"signals,omitempty"`
}

// signalRecord is the JSON shape of one contributing signal.
type signalRecord struct {
	Flag string `json:"flag"`
	Term string `json:"term"`
}

// New builds an [Incident] from a decision and the assessment behind it.
func New(callID string, at time.Time, d callstate.Decision, a risk.Assessment) Incident {
	inc := Incident{
		ID:        uuid.NewString(),
		CallID:    callID,
		Timestamp: at,
		Action:    d.Action,
		State:     d.State,
		Reason:    d.Reason,
		RiskScore: a.Score,
		Category:  a.Category,
		Matches:   a.Matches,
	}
	for _, s := range a.Signals {
		inc.Signals = append(inc.Signals, signalRecord{Flag: string(s.Flag), Term: s.Term})
	}
	return inc
}

// Sink receives incidents. Implementations must be safe for concurrent use
// and should honor ctx: the core emits with a bounded timeout and will not
// wait on a slow sink.
type Sink interface {
	Emit(ctx context.Context, incident Incident) error
}

// LogSink writes incidents to the process log.
type LogSink struct {
	Logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// Emit implements [Sink].
func (s *LogSink) Emit(_ context.Context, inc Incident) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("screening incident",
		"incident_id", inc.ID,
		"call_id", inc.CallID,
		"action", inc.Action,
		"state", inc.State,
		"risk_score", inc.RiskScore,
		"category", inc.Category,
		"reason", inc.Reason,
	)
	return nil
}
