package screening

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wardline/wardline/internal/alert"
	"github.com/wardline/wardline/internal/callstate"
	"github.com/wardline/wardline/internal/index"
	"github.com/wardline/wardline/internal/risk"
	"github.com/wardline/wardline/pkg/patterns"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// stubQuerier returns a fixed match set (or error) for every query.
type stubQuerier struct {
	mu      sync.Mutex
	matches []patterns.Match
	err     error
	queries []string
}

func (q *stubQuerier) Query(_ context.Context, text string, topK int) ([]patterns.Match, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, text)
	if q.err != nil {
		return nil, q.err
	}
	if len(q.matches) > topK {
		return q.matches[:topK], nil
	}
	return q.matches, nil
}

// recordSink captures emitted incidents.
type recordSink struct {
	mu        sync.Mutex
	incidents []alert.Incident
}

func (s *recordSink) Emit(_ context.Context, inc alert.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, inc)
	return nil
}

func (s *recordSink) all() []alert.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alert.Incident(nil), s.incidents...)
}

func newScreener(q PatternQuerier, sink alert.Sink) *Screener {
	return New(q, sink, risk.DefaultPolicy())
}

func TestIRSGiftCardCallIsBlocked(t *testing.T) {
	q := &stubQuerier{matches: []patterns.Match{{
		Record:     patterns.Record{ID: "curated-0", Phrase: "IRS owes you money", Category: patterns.CategoryImpersonation, Severity: 0.9},
		Similarity: 0.8,
	}}}
	sink := &recordSink{}
	s := newScreener(q, sink)

	res := s.OnTranscriptUpdate(context.Background(), "call-1",
		"This is the IRS, you owe back taxes, pay immediately with a gift card", t0)

	if res.Action != callstate.ActionBlock && res.Action != callstate.ActionTransferFamily {
		t.Fatalf("action = %s, want block or transfer_family", res.Action)
	}
	if res.RiskScore < 0.70 {
		t.Errorf("risk score = %.3f, want ≥ 0.70", res.RiskScore)
	}
	if res.Category != patterns.CategoryImpersonation {
		t.Errorf("category = %s, want impersonation", res.Category)
	}

	s.Close()
	incidents := sink.all()
	if len(incidents) != 1 {
		t.Fatalf("got %d incidents, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.CallID != "call-1" || inc.Action != res.Action {
		t.Errorf("incident = %+v", inc)
	}
	if len(inc.Matches) == 0 || len(inc.Signals) == 0 {
		t.Errorf("incident missing evidence: %+v", inc)
	}
}

func TestGrandparentScamEscalatesOnSecondUpdate(t *testing.T) {
	q := &stubQuerier{matches: []patterns.Match{{
		Record:     patterns.Record{ID: "curated-1", Phrase: "grandson needs bail money", Category: patterns.CategoryGrandparent, Severity: 0.7},
		Similarity: 0.5,
	}}}
	s := newScreener(q, &recordSink{})
	ctx := context.Background()
	text := "Hi grandma it's me, I need bail money"

	first := s.OnTranscriptUpdate(ctx, "call-2", text, t0)
	if first.Category != patterns.CategoryGrandparent {
		t.Errorf("category = %s, want grandparent", first.Category)
	}
	if first.Action != callstate.ActionAllow || first.State != callstate.StateWatching {
		t.Fatalf("first update: got %s/%s, want allow/watching", first.Action, first.State)
	}
	if first.RiskScore < 0.30 || first.RiskScore >= 0.70 {
		t.Errorf("risk score = %.3f, want in watch band [0.30, 0.70)", first.RiskScore)
	}

	second := s.OnTranscriptUpdate(ctx, "call-2", text, t0.Add(5*time.Second))
	if second.Action != callstate.ActionTransferMonitor || second.State != callstate.StateWarning {
		t.Fatalf("second update: got %s/%s, want transfer_monitor/warning", second.Action, second.State)
	}
}

func TestBenignCallIsAllowed(t *testing.T) {
	// Nearest pattern is far below the similarity floor.
	q := &stubQuerier{matches: []patterns.Match{{
		Record:     patterns.Record{ID: "curated-2", Phrase: "you won a prize", Category: patterns.CategoryPrize, Severity: 0.6},
		Similarity: 0.1,
	}}}
	sink := &recordSink{}
	s := newScreener(q, sink)

	res := s.OnTranscriptUpdate(context.Background(), "call-3",
		"Hi, this is your dentist's office confirming your appointment", t0)

	if res.Action != callstate.ActionAllow {
		t.Errorf("action = %s, want allow", res.Action)
	}
	if res.RiskScore >= 0.30 {
		t.Errorf("risk score = %.3f, want below 0.30", res.RiskScore)
	}
	if res.Category != patterns.CategoryNone {
		t.Errorf("category = %s, want none", res.Category)
	}

	s.Close()
	if len(sink.all()) != 0 {
		t.Errorf("benign call emitted incidents: %v", sink.all())
	}
}

func TestIndexUnavailableDegradesToSignals(t *testing.T) {
	q := &stubQuerier{err: index.ErrIndexUnavailable}
	s := newScreener(q, &recordSink{})

	res := s.OnTranscriptUpdate(context.Background(), "call-4",
		"pay immediately with a gift card", t0)

	if res.Action != callstate.ActionAllow {
		t.Errorf("action = %s, want allow (never block on index unavailability)", res.Action)
	}
	if res.Category != patterns.CategoryNone {
		t.Errorf("category = %s, want none for signal-only score", res.Category)
	}
	if res.RiskScore <= 0 {
		t.Errorf("risk score = %.3f, want boost from signals", res.RiskScore)
	}
}

func TestQueryErrorDowngradesToSignals(t *testing.T) {
	q := &stubQuerier{err: errors.New("backend exploded")}
	s := newScreener(q, &recordSink{})

	res := s.OnTranscriptUpdate(context.Background(), "call-5", "hello there", t0)
	if res.Action != callstate.ActionAllow || res.RiskScore != 0 {
		t.Errorf("got %s score %.3f, want allow with score 0", res.Action, res.RiskScore)
	}
}

func TestEmptyChunkScoresZero(t *testing.T) {
	q := &stubQuerier{}
	s := newScreener(q, &recordSink{})

	res := s.OnTranscriptUpdate(context.Background(), "call-6", "   ", t0)
	if res.RiskScore != 0 || res.Category != patterns.CategoryNone {
		t.Errorf("empty chunk: got score %.3f category %s", res.RiskScore, res.Category)
	}
	if len(q.queries) != 0 {
		t.Error("empty chunk reached the index")
	}
}

func TestMissingCallIDIsSafeNoop(t *testing.T) {
	s := newScreener(&stubQuerier{}, &recordSink{})

	res := s.OnTranscriptUpdate(context.Background(), "", "urgent wire transfer", t0)
	if res.Action != callstate.ActionAllow {
		t.Errorf("action = %s, want allow", res.Action)
	}
	if s.ActiveCalls() != 0 {
		t.Errorf("session created for empty call id")
	}
}

func TestReplayedUpdateHoldsTerminalAction(t *testing.T) {
	q := &stubQuerier{matches: []patterns.Match{{
		Record:     patterns.Record{ID: "curated-0", Phrase: "medicare card replacement", Category: patterns.CategoryMedicare, Severity: 0.9},
		Similarity: 0.9,
	}}}
	s := newScreener(q, &recordSink{})
	ctx := context.Background()
	text := "we need your new medicare card number immediately"

	first := s.OnTranscriptUpdate(ctx, "call-7", text, t0)
	second := s.OnTranscriptUpdate(ctx, "call-7", text, t0.Add(time.Second))

	if first.Action != callstate.ActionBlock {
		t.Fatalf("first action = %s, want block", first.Action)
	}
	if second.Action != first.Action || second.State != callstate.StateBlocked {
		t.Errorf("replayed update changed action: %+v", second)
	}
	if second.RiskScore != first.RiskScore {
		t.Errorf("scorer not pure: %.3f vs %.3f", first.RiskScore, second.RiskScore)
	}
}

func TestEndCallSummarizes(t *testing.T) {
	q := &stubQuerier{matches: []patterns.Match{{
		Record:     patterns.Record{ID: "curated-0", Phrase: "claim your prize", Category: patterns.CategoryPrize, Severity: 0.7},
		Similarity: 0.6,
	}}}
	s := newScreener(q, &recordSink{})
	ctx := context.Background()

	s.OnTranscriptUpdate(ctx, "call-8", "you won a limited time prize", t0)
	summary, err := s.EndCall(ctx, "call-8", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	if summary.Updates != 1 || summary.Category != patterns.CategoryPrize {
		t.Errorf("summary = %+v", summary)
	}
	if s.ActiveCalls() != 0 {
		t.Errorf("ActiveCalls() = %d after EndCall", s.ActiveCalls())
	}

	if _, err := s.EndCall(ctx, "call-8", t0); !errors.Is(err, callstate.ErrUnknownCall) {
		t.Errorf("second EndCall: got %v, want ErrUnknownCall", err)
	}
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	q := &stubQuerier{}
	s := newScreener(q, &recordSink{})
	ctx := context.Background()

	const calls = 16
	const updates = 25
	var wg sync.WaitGroup
	wg.Add(calls)
	for c := 0; c < calls; c++ {
		callID := fmt.Sprintf("call-%d", c)
		go func() {
			defer wg.Done()
			for u := 0; u < updates; u++ {
				s.OnTranscriptUpdate(ctx, callID, "just catching up about the garden", t0.Add(time.Duration(u)*time.Second))
			}
		}()
	}
	wg.Wait()

	if s.ActiveCalls() != calls {
		t.Errorf("ActiveCalls() = %d, want %d", s.ActiveCalls(), calls)
	}
	s.Close()
}
