package alert

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wardline/wardline/internal/callstate"
	"github.com/wardline/wardline/internal/risk"
	"github.com/wardline/wardline/internal/signal"
	"github.com/wardline/wardline/pkg/patterns"
)

func testIncident() Incident {
	d := callstate.Decision{
		Action:    callstate.ActionBlock,
		State:     callstate.StateBlocked,
		Reason:    "score 0.85 at or above 0.70, category impersonation",
		Escalated: true,
	}
	a := risk.Assessment{
		Score:    0.85,
		Category: patterns.CategoryImpersonation,
		Matches: []patterns.Match{{
			Record:     patterns.Record{ID: "curated-3", Phrase: "irs back taxes", Category: patterns.CategoryImpersonation, Severity: 0.9},
			Similarity: 0.91,
		}},
		Signals: []signal.Signal{{Flag: signal.FlagAuthority, Term: "irs", Weight: 0.15}},
	}
	return New("call-42", time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), d, a)
}

func TestNew_PopulatesEvidence(t *testing.T) {
	inc := testIncident()
	if inc.ID == "" {
		t.Error("incident id not assigned")
	}
	if inc.CallID != "call-42" || inc.Action != callstate.ActionBlock {
		t.Errorf("incident fields: %+v", inc)
	}
	if len(inc.Matches) != 1 || len(inc.Signals) != 1 {
		t.Errorf("evidence not retained: %+v", inc)
	}
	if inc.Signals[0].Flag != string(signal.FlagAuthority) {
		t.Errorf("signal record: %+v", inc.Signals[0])
	}
}

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.jsonl")
	sink := NewFileSink(path)

	first := testIncident()
	second := testIncident()
	for _, inc := range []Incident{first, second} {
		if err := sink.Emit(context.Background(), inc); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var got []Incident
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var inc Incident
		if err := json.Unmarshal(scanner.Bytes(), &inc); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, inc)
	}
	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Errorf("incident order not preserved")
	}
	if got[0].RiskScore != 0.85 || got[0].Category != patterns.CategoryImpersonation {
		t.Errorf("round-tripped incident: %+v", got[0])
	}
}

func TestLogSink_NilLoggerDoesNotPanic(t *testing.T) {
	sink := &LogSink{}
	if err := sink.Emit(context.Background(), testIncident()); err != nil {
		t.Fatalf("emit: %v", err)
	}
}
