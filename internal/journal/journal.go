// Package journal keeps a bounded in-memory record of every decision the
// engine makes: strategy actions, risk verdicts, and execution outcomes.
// The buffer is FIFO capped, so the journal answers "what happened to this
// token in the last while" without ever growing unbounded.
package journal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry event types.
const (
	EventDecision  = "decision"
	EventRiskCheck = "risk_check"
	EventExecution = "execution"
)

// Entry is one recorded step of the decision chain.
type Entry struct {
	EventType string    `json:"event_type"` // decision|risk_check|execution
	Timestamp time.Time `json:"ts"`
	Mint      string    `json:"mint,omitempty"`
	IntentID  string    `json:"intent_id,omitempty"`
	Action    string    `json:"action,omitempty"`   // buy|sell
	Reason    string    `json:"reason,omitempty"`   // strategy reason or failure detail
	Decision  string    `json:"decision,omitempty"` // risk: allow|deny, execution: filled|failed|discarded
	Payload   string    `json:"payload"`            // JSON of the full event
}

// Trail is the bounded journal. Safe for concurrent use.
type Trail struct {
	mu      sync.Mutex
	entries []Entry
	maxBuf  int

	recorded int64
}

// NewTrail creates a journal holding at most maxBuf entries. Once full, the
// oldest entries are discarded FIFO. A maxBuf of 0 disables buffering.
func NewTrail(maxBuf int) *Trail {
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{entries: make([]Entry, 0, maxBuf), maxBuf: maxBuf}
}

// RecordDecision logs a non-hold strategy action for a mint.
func (t *Trail) RecordDecision(mint, intentID, action, reason string, detail interface{}) {
	t.record(Entry{
		EventType: EventDecision,
		Timestamp: time.Now(),
		Mint:      mint,
		IntentID:  intentID,
		Action:    action,
		Reason:    reason,
		Payload:   mustMarshal(detail),
	})
}

// RecordRiskCheck logs a risk gate verdict for an intent.
func (t *Trail) RecordRiskCheck(mint, intentID string, allowed bool, detail interface{}) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	t.record(Entry{
		EventType: EventRiskCheck,
		Timestamp: time.Now(),
		Mint:      mint,
		IntentID:  intentID,
		Decision:  decision,
		Payload:   mustMarshal(detail),
	})
}

// RecordExecution logs the terminal outcome of an execution attempt.
func (t *Trail) RecordExecution(mint, intentID, action, outcome, reason string, detail interface{}) {
	t.record(Entry{
		EventType: EventExecution,
		Timestamp: time.Now(),
		Mint:      mint,
		IntentID:  intentID,
		Action:    action,
		Decision:  outcome,
		Reason:    reason,
		Payload:   mustMarshal(detail),
	})
}

// QueryMint returns all buffered entries for one mint, oldest first.
func (t *Trail) QueryMint(mint string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.Mint == mint {
			out = append(out, e)
		}
	}
	return out
}

// QueryIntent returns all buffered entries for one intent, oldest first.
func (t *Trail) QueryIntent(intentID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.IntentID == intentID {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of the whole buffer, oldest first.
func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Tail returns the newest n entries, oldest first.
func (t *Trail) Tail(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 || n > len(t.entries) {
		n = len(t.entries)
	}
	out := make([]Entry, n)
	copy(out, t.entries[len(t.entries)-n:])
	return out
}

// Len returns the number of buffered entries.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Recorded returns the total number of entries ever recorded, including
// those already evicted from the buffer.
func (t *Trail) Recorded() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recorded
}

func (t *Trail) record(entry Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.recorded++
	if t.maxBuf == 0 {
		return
	}
	if len(t.entries) >= t.maxBuf {
		// Shift left: discard oldest entry.
		copy(t.entries, t.entries[1:])
		t.entries[len(t.entries)-1] = entry
		return
	}
	t.entries = append(t.entries, entry)
}

func mustMarshal(v interface{}) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("journal: marshal payload failed")
		return "{}"
	}
	return string(data)
}
