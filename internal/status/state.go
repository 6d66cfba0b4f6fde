// Package status tracks the lifecycle of the remote listeners owned by the
// sync reconciler.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/master-rogerio/VCZapO-sub001/internal/bus"
)

// State is a listener lifecycle state.
type State string

const (
	Idle        State = "IDLE"
	Subscribing State = "SUBSCRIBING"
	Live        State = "LIVE"
	Failed      State = "FAILED"
	Stopped     State = "STOPPED"
)

// validTransitions defines allowed state transitions. Retry re-enters
// SUBSCRIBING from LIVE or FAILED; STOPPED is reachable from anywhere.
var validTransitions = map[State][]State{
	Idle:        {Subscribing, Stopped},
	Subscribing: {Live, Failed, Stopped},
	Live:        {Subscribing, Failed, Stopped},
	Failed:      {Subscribing, Stopped},
	Stopped:     {Subscribing},
}

// Machine tracks and enforces listener state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindSyncStateChanged, Change{From: from, To: to}))
	}
	return nil
}

// CanRetry reports whether a retry is meaningful from the current state.
func (m *Machine) CanRetry() bool {
	switch m.Current() {
	case Live, Failed:
		return true
	}
	return false
}

// Change is the payload of sync.state_changed events.
type Change struct {
	From State
	To   State
}
