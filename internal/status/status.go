// Package status tracks the lifecycle of individual sync operations and
// publishes phase transitions on the bus.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"fetmsg/internal/bus"
)

// Phase is where a single sync operation currently stands.
type Phase string

const (
	Idle       Phase = "IDLE"
	Requesting Phase = "REQUESTING"
	Merging    Phase = "MERGING"
	Failed     Phase = "FAILED"
)

// validTransitions defines the allowed per-operation phase transitions.
var validTransitions = map[Phase][]Phase{
	Idle:       {Requesting},
	Requesting: {Merging, Failed},
	Merging:    {Idle, Failed},
	Failed:     {Idle},
}

// Tracker maintains one phase machine per operation key, e.g.
// "conversations" or "messages/<conversation id>".
type Tracker struct {
	mu  sync.Mutex
	ops map[string]Phase
	bus *bus.Bus
}

// NewTracker creates an empty tracker; unknown operations report Idle.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		ops: make(map[string]Phase),
		bus: b,
	}
}

// Phase returns the current phase of an operation.
func (t *Tracker) Phase(op string) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.ops[op]; ok {
		return p
	}
	return Idle
}

// Transition moves an operation to a new phase. Returns an error for
// transitions the machine does not allow.
func (t *Tracker) Transition(op string, to Phase) error {
	t.mu.Lock()
	from, ok := t.ops[op]
	if !ok {
		from = Idle
	}
	if !slices.Contains(validTransitions[from], to) {
		t.mu.Unlock()
		return fmt.Errorf("invalid transition for %s: %s to %s", op, from, to)
	}
	if to == Idle {
		delete(t.ops, op)
	} else {
		t.ops[op] = to
	}
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:      bus.KindSyncStatus,
			Timestamp: time.Now(),
			Payload:   PhaseChange{Op: op, From: from, To: to},
		})
	}
	return nil
}

// PhaseChange is the payload for sync status events.
type PhaseChange struct {
	Op   string
	From Phase
	To   Phase
}
