package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vertex-trading/vertex/internal/solana"
	"github.com/vertex-trading/vertex/internal/tracker"
)

// ---------------------------------------------------------------------------
// Attempt lifecycle state machine
// ---------------------------------------------------------------------------

// AttemptState is the current lifecycle phase of an execution attempt.
type AttemptState string

const (
	StateBuild        AttemptState = "BUILD"
	StateSubmit       AttemptState = "SUBMIT"
	StateAwaitConfirm AttemptState = "AWAIT_CONFIRM"
	StateConfirmed    AttemptState = "CONFIRMED"
	StateRetryWait    AttemptState = "RETRY"
	StateFailed       AttemptState = "FAILED"
)

// AttemptEvent triggers a state transition.
type AttemptEvent string

const (
	EvBuilt     AttemptEvent = "BUILT"
	EvSubmitted AttemptEvent = "SUBMITTED"
	EvConfirmed AttemptEvent = "CONFIRMED"
	EvRetryable AttemptEvent = "RETRYABLE"
	EvResume    AttemptEvent = "RESUME"
	EvFatal     AttemptEvent = "FATAL"
	EvExhausted AttemptEvent = "EXHAUSTED"
)

// attemptEdge defines an allowed state machine edge.
type attemptEdge struct {
	from  AttemptState
	event AttemptEvent
}

// attemptTransitions is the authoritative transition table. Every valid
// (currentState, event) pair maps to exactly one target state.
var attemptTransitions = map[attemptEdge]AttemptState{
	{StateBuild, EvBuilt}:            StateSubmit,
	{StateSubmit, EvSubmitted}:       StateAwaitConfirm,
	{StateAwaitConfirm, EvConfirmed}: StateConfirmed,

	{StateBuild, EvRetryable}:        StateRetryWait,
	{StateSubmit, EvRetryable}:       StateRetryWait,
	{StateAwaitConfirm, EvRetryable}: StateRetryWait,
	{StateRetryWait, EvResume}:       StateBuild,
	{StateRetryWait, EvExhausted}:    StateFailed,

	{StateBuild, EvFatal}:        StateFailed,
	{StateSubmit, EvFatal}:       StateFailed,
	{StateAwaitConfirm, EvFatal}: StateFailed,
}

// Attempt tracks one intent through build, submit, and confirmation. A single
// coordinator goroutine drives it; the mutex exists so the control plane and
// the stuck-attempt monitor can read live attempts safely.
type Attempt struct {
	mu sync.Mutex

	ID     string
	Intent tracker.Intent

	State     AttemptState
	Tries     int    // completed tries, including the running one
	MaxTries  int
	Route     string // venue that carried the last submission
	Signature solana.Signature
	LastErr   error
	Class     ErrorClass

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

func newAttempt(intent tracker.Intent, maxTries int) *Attempt {
	now := time.Now()
	return &Attempt{
		ID:        uuid.New().String()[:12],
		Intent:    intent,
		State:     StateBuild,
		MaxTries:  maxTries,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Fire advances the attempt through the state machine. Invalid edges are
// rejected; reaching CONFIRMED or FAILED stamps CompletedAt.
func (a *Attempt) Fire(event AttemptEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.State
	next, ok := attemptTransitions[attemptEdge{from: a.State, event: event}]
	if !ok {
		return fmt.Errorf("invalid transition: state=%s event=%s", a.State, event)
	}

	now := time.Now()
	a.State = next
	a.UpdatedAt = now
	if a.terminalLocked() {
		a.CompletedAt = now
	}

	log.Debug().
		Str("attempt_id", a.ID).
		Str("intent_id", a.Intent.ID).
		Str("mint", string(a.Intent.Mint)).
		Str("prev_state", string(prev)).
		Str("event", string(event)).
		Str("new_state", string(next)).
		Int("try", a.Tries).
		Msg("attempt state transition")
	return nil
}

// fail records the classified error and fires the matching terminal or retry
// event.
func (a *Attempt) fail(err error, class ErrorClass, event AttemptEvent) error {
	a.mu.Lock()
	a.LastErr = err
	a.Class = class
	a.mu.Unlock()
	return a.Fire(event)
}

// bumpTry counts a new try and records the route carrying it.
func (a *Attempt) bumpTry(route string) {
	a.mu.Lock()
	a.Tries++
	a.Route = route
	a.mu.Unlock()
}

// TriesDone returns the number of tries started so far.
func (a *Attempt) TriesDone() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Tries
}

func (a *Attempt) setSignature(sig solana.Signature) {
	a.mu.Lock()
	a.Signature = sig
	a.mu.Unlock()
}

// Terminal reports whether the attempt reached CONFIRMED or FAILED.
func (a *Attempt) Terminal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminalLocked()
}

func (a *Attempt) terminalLocked() bool {
	return a.State == StateConfirmed || a.State == StateFailed
}

// GetState returns the current state.
func (a *Attempt) GetState() AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.State
}

// Age is the time since the attempt was created.
func (a *Attempt) Age(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.Sub(a.CreatedAt)
}

// View is the control-plane snapshot of one live attempt.
type View struct {
	ID        string           `json:"id"`
	IntentID  string           `json:"intent_id"`
	Mint      solana.Pubkey    `json:"mint"`
	Action    string           `json:"action"`
	State     AttemptState     `json:"state"`
	Tries     int              `json:"tries"`
	Route     string           `json:"route,omitempty"`
	Signature solana.Signature `json:"signature,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Snapshot captures the attempt for the control plane.
func (a *Attempt) Snapshot() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := View{
		ID:        a.ID,
		IntentID:  a.Intent.ID,
		Mint:      a.Intent.Mint,
		Action:    a.Intent.Action.Type.String(),
		State:     a.State,
		Tries:     a.Tries,
		Route:     a.Route,
		Signature: a.Signature,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.LastErr != nil {
		v.Error = a.LastErr.Error()
	}
	return v
}
