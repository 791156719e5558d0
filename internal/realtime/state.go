package realtime

import (
	"fmt"
	"slices"
	"sync"
)

// State is a realtime session's lifecycle state.
type State string

const (
	Connecting     State = "CONNECTING"
	Authenticating State = "AUTHENTICATING"
	Active         State = "ACTIVE"
	Closed         State = "CLOSED"
)

// validTransitions defines allowed session state transitions. Closed is
// terminal and reachable from every other state, so a failed handshake
// never passes through Active.
var validTransitions = map[State][]State{
	Connecting:     {Authenticating, Closed},
	Authenticating: {Active, Closed},
	Active:         {Closed},
	Closed:         {},
}

// machine tracks and enforces one session's state transitions.
type machine struct {
	mu      sync.Mutex
	current State
}

func newMachine() *machine {
	return &machine{current: Connecting}
}

func (m *machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves to the given state and returns the previous one.
func (m *machine) Transition(to State) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return m.current, fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	return from, nil
}
