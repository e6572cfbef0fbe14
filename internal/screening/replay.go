package screening

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wardline/wardline/internal/callstate"
)

// ReplayEvent is one line of a JSONL replay file: a transcript chunk for a
// call, or a call-end marker when End is set.
type ReplayEvent struct {
	// CallID identifies the call the event belongs to.
	CallID string `json:"call_id"`

	// Text is the transcript chunk. Ignored on end events.
	Text string `json:"text,omitempty"`

	// At is the event timestamp. Zero means "now".
	At time.Time `json:"at,omitempty"`

	// End marks the call as finished.
	End bool `json:"end,omitempty"`
}

// ReplayStats summarises a replay run.
type ReplayStats struct {
	// Events is the number of transcript events processed.
	Events int

	// CallsEnded is the number of end events processed.
	CallsEnded int

	// Actions counts decisions by action.
	Actions map[callstate.Action]int
}

// Replay feeds recorded transcript events from r into the screener, one JSON
// object per line. Blank lines are skipped; a malformed line aborts the
// replay with its line number. Useful for regression runs against captured
// call transcripts.
func Replay(ctx context.Context, s *Screener, r io.Reader) (ReplayStats, error) {
	stats := ReplayStats{Actions: make(map[callstate.Action]int)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var ev ReplayEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return stats, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if ev.CallID == "" {
			return stats, fmt.Errorf("replay: line %d: missing call_id", line)
		}

		if ev.End {
			summary, err := s.EndCall(ctx, ev.CallID, ev.At)
			if err != nil {
				if errors.Is(err, callstate.ErrUnknownCall) {
					slog.Warn("replay: end event for unknown call", "call_id", ev.CallID, "line", line)
					continue
				}
				return stats, fmt.Errorf("replay: line %d: %w", line, err)
			}
			stats.CallsEnded++
			slog.Info("replay: call ended",
				"call_id", ev.CallID,
				"final_state", summary.FinalState,
				"max_score", summary.MaxScore,
			)
			continue
		}

		res := s.OnTranscriptUpdate(ctx, ev.CallID, ev.Text, ev.At)
		stats.Events++
		stats.Actions[res.Action]++
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("replay: read: %w", err)
	}
	return stats, nil
}
