package state

import (
	"errors"
	"fmt"
	"sync"
)

// Phase is the round phase of a room, derived from its reveal flag.
type Phase string

const (
	PhaseActive   Phase = "active"
	PhaseRevealed Phase = "revealed"
)

// PhaseOf maps a room's reveal flag to its phase.
func PhaseOf(reveal bool) Phase {
	if reveal {
		return PhaseRevealed
	}
	return PhaseActive
}

// Revealed reports whether cards are visible in this phase.
func (p Phase) Revealed() bool {
	return p == PhaseRevealed
}

// Event is a round lifecycle request.
type Event string

const (
	EventReveal Event = "reveal"
	EventHide   Event = "hide"
	EventToggle Event = "toggle"
	EventReset  Event = "reset"
)

// Transition describes what firing Event in From does to a room.
// Archive snapshots the current cards into history before ClearCards runs.
type Transition struct {
	From       Phase
	Event      Event
	To         Phase
	Archive    bool
	ClearCards bool
}

// ErrTransitionNotAllowed is returned when no transition is registered for an event.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Machine is a lookup table of transitions. It holds no room state itself;
// the phase lives on the shared document.
type Machine struct {
	transitions map[Phase]map[Event]Transition
	mutex       sync.RWMutex
}

// NewMachine returns a machine with the planning round lifecycle registered.
func NewMachine() *Machine {
	m := &Machine{transitions: make(map[Phase]map[Event]Transition)}

	m.AddTransition(Transition{From: PhaseActive, Event: EventReveal, To: PhaseRevealed})
	m.AddTransition(Transition{From: PhaseRevealed, Event: EventReveal, To: PhaseRevealed})

	m.AddTransition(Transition{From: PhaseRevealed, Event: EventHide, To: PhaseActive, Archive: true, ClearCards: true})
	m.AddTransition(Transition{From: PhaseActive, Event: EventHide, To: PhaseActive, Archive: true, ClearCards: true})

	m.AddTransition(Transition{From: PhaseActive, Event: EventToggle, To: PhaseRevealed})
	m.AddTransition(Transition{From: PhaseRevealed, Event: EventToggle, To: PhaseActive, Archive: true, ClearCards: true})

	m.AddTransition(Transition{From: PhaseActive, Event: EventReset, To: PhaseActive, ClearCards: true})
	m.AddTransition(Transition{From: PhaseRevealed, Event: EventReset, To: PhaseActive, ClearCards: true})

	return m
}

// AddTransition registers or replaces the transition for (t.From, t.Event).
func (m *Machine) AddTransition(t Transition) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[t.From]; !exists {
		m.transitions[t.From] = make(map[Event]Transition)
	}
	m.transitions[t.From][t.Event] = t
}

// Fire looks up the transition for event in phase from.
func (m *Machine) Fire(from Phase, event Event) (Transition, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if events, exists := m.transitions[from]; exists {
		if t, exists := events[event]; exists {
			return t, nil
		}
	}
	return Transition{}, fmt.Errorf("%w: %s in %s", ErrTransitionNotAllowed, event, from)
}
