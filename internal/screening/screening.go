// Package screening is the orchestrator of the risk-decision core. It wires
// the transcript normalizer, the pattern index, the risk scorer, and the
// per-call state machine behind the single entry point the telephony layer
// calls: [Screener.OnTranscriptUpdate].
//
// The package owns the failure semantics of the core: nothing here is fatal
// to a live call. An unavailable index degrades to signal-only scoring, a
// malformed update is treated as an empty chunk, and incident delivery is
// asynchronous with a bounded timeout so a slow alert sink can never stall a
// decision.
package screening

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/wardline/wardline/internal/alert"
	"github.com/wardline/wardline/internal/callstate"
	"github.com/wardline/wardline/internal/index"
	"github.com/wardline/wardline/internal/observe"
	"github.com/wardline/wardline/internal/risk"
	"github.com/wardline/wardline/internal/signal"
	"github.com/wardline/wardline/internal/syncutil"
	"github.com/wardline/wardline/pkg/patterns"
)

// PatternQuerier retrieves the nearest corpus patterns for a transcript
// chunk. *index.Searcher is the production implementation.
type PatternQuerier interface {
	Query(ctx context.Context, text string, topK int) ([]patterns.Match, error)
}

var _ PatternQuerier = (*index.Searcher)(nil)

// DecisionResult is what the telephony collaborator receives for each
// transcript update. Translating Action into real call control (hangup,
// transfer target, audio prompt) is that layer's job.
type DecisionResult struct {
	Action    callstate.Action
	Reason    string
	RiskScore float64
	Category  patterns.Category
	State     callstate.State
}

const defaultAlertTimeout = 5 * time.Second

// Option is a functional option for [New].
type Option func(*Screener)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Screener) { s.now = now }
}

// WithAlertTimeout bounds how long an asynchronous incident emission may
// take. Default: 5s.
func WithAlertTimeout(d time.Duration) Option {
	return func(s *Screener) {
		if d > 0 {
			s.alertTimeout = d
		}
	}
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Screener) { s.metrics = m }
}

// Screener composes the decision core for all live calls. Safe for
// concurrent use: updates for different call ids proceed independently,
// updates for the same call id are serialized so the hysteresis counters see
// samples in arrival order.
type Screener struct {
	querier PatternQuerier
	scorer  *risk.Scorer
	engine  *callstate.Engine
	store   *callstate.Store
	sink    alert.Sink
	policy  risk.Policy
	metrics *observe.Metrics

	locks syncutil.ShardedMutex
	now   func() time.Time

	alertTimeout time.Duration
	alertWG      sync.WaitGroup
}

// New creates a Screener over the given pattern querier and alert sink.
func New(querier PatternQuerier, sink alert.Sink, policy risk.Policy, opts ...Option) *Screener {
	s := &Screener{
		querier:      querier,
		scorer:       risk.NewScorer(policy),
		engine:       callstate.NewEngine(policy),
		store:        callstate.NewStore(),
		sink:         sink,
		policy:       policy,
		now:          time.Now,
		alertTimeout: defaultAlertTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// OnTranscriptUpdate screens one transcript chunk for callID and returns the
// resulting call-control decision. It is the sole inbound entry point of the
// core.
//
// The update mutates only the named call's session. An unknown call id
// creates a session on the fly. Errors never propagate to the caller: every
// failure downgrades to the safest decision the session allows, with a
// diagnostic log line carrying the trace id.
func (s *Screener) OnTranscriptUpdate(ctx context.Context, callID, chunk string, at time.Time) DecisionResult {
	ctx, span := observe.StartSpan(ctx, "screening.transcript_update")
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.ScreeningDuration.Record(ctx, time.Since(start).Seconds())
	}()

	logger := observe.Logger(ctx)

	if callID == "" {
		logger.Warn("transcript update without call id, allowing")
		return DecisionResult{
			Action:   callstate.ActionAllow,
			Reason:   "update carried no call id",
			Category: patterns.CategoryNone,
			State:    callstate.StateNormal,
		}
	}
	if at.IsZero() {
		at = s.now()
	}

	assessment := s.assess(ctx, chunk)

	unlock := s.locks.Lock(callID)
	sess, created := s.store.GetOrCreate(callID, at)
	decision := s.engine.Apply(sess, assessment, at)
	unlock()

	if created {
		s.metrics.ActiveCalls.Add(ctx, 1)
	}
	s.metrics.RecordDecision(ctx, string(decision.Action), string(assessment.Category))

	logger.Info("screening decision",
		"call_id", callID,
		"action", decision.Action,
		"state", decision.State,
		"risk_score", assessment.Score,
		"category", assessment.Category,
	)

	if decision.Escalated {
		s.emitIncident(ctx, callID, at, decision, assessment)
	}

	return DecisionResult{
		Action:    decision.Action,
		Reason:    decision.Reason,
		RiskScore: assessment.Score,
		Category:  assessment.Category,
		State:     decision.State,
	}
}

// assess normalizes and scores one chunk. A blank chunk scores zero without
// touching the index; an unavailable or failing index degrades to
// signal-only scoring rather than failing the call.
func (s *Screener) assess(ctx context.Context, chunk string) risk.Assessment {
	if strings.TrimSpace(chunk) == "" {
		return s.scorer.Score(nil, nil)
	}

	signals := signal.Normalize(chunk)

	queryStart := time.Now()
	matches, err := s.querier.Query(ctx, chunk, s.policy.TopK)
	s.metrics.IndexQueryDuration.Record(ctx, time.Since(queryStart).Seconds(),
		metric.WithAttributes(observe.Attr("status", statusOf(err))))
	if err != nil {
		if errors.Is(err, index.ErrIndexUnavailable) {
			observe.Logger(ctx).Warn("pattern index unavailable, scoring on signals only")
		} else {
			observe.Logger(ctx).Error("pattern query failed, scoring on signals only", "err", err)
		}
		matches = nil
	}

	return s.scorer.Score(matches, signals)
}

// emitIncident hands the escalation to the alert sink on a detached
// goroutine. Delivery uses its own bounded-timeout context so neither the
// caller's cancellation nor a slow sink affects the decision path.
func (s *Screener) emitIncident(ctx context.Context, callID string, at time.Time, d callstate.Decision, a risk.Assessment) {
	inc := alert.New(callID, at, d, a)
	s.metrics.RecordIncident(ctx, string(d.Action))

	s.alertWG.Add(1)
	go func() {
		defer s.alertWG.Done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.alertTimeout)
		defer cancel()
		if err := s.sink.Emit(emitCtx, inc); err != nil {
			observe.Logger(emitCtx).Error("incident emission failed",
				"incident_id", inc.ID,
				"call_id", inc.CallID,
				"err", err,
			)
		}
	}()
}

// EndCall closes the session for callID and returns its post-call summary.
// Returns [callstate.ErrUnknownCall] when no session is live for the id.
func (s *Screener) EndCall(ctx context.Context, callID string, at time.Time) (callstate.Summary, error) {
	if at.IsZero() {
		at = s.now()
	}

	unlock := s.locks.Lock(callID)
	summary, err := s.store.End(callID, at)
	unlock()
	if err != nil {
		return callstate.Summary{}, err
	}

	s.metrics.ActiveCalls.Add(ctx, -1)
	observe.Logger(ctx).Info("call ended",
		"call_id", summary.CallID,
		"final_state", summary.FinalState,
		"action", summary.Action,
		"updates", summary.Updates,
		"max_score", summary.MaxScore,
		"category", summary.Category,
	)
	return summary, nil
}

// ActiveCalls reports the number of live sessions.
func (s *Screener) ActiveCalls() int {
	return s.store.Active()
}

// Close waits for in-flight incident emissions to finish. Call it during
// shutdown after the inbound transport has drained.
func (s *Screener) Close() {
	s.alertWG.Wait()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
