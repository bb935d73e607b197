package status

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
)

// State is the connectivity of the IMAP session.
type State string

const (
	NotConnected State = "NOT_CONNECTED"
	Connecting   State = "CONNECTING"
	Fetching     State = "FETCHING"
	Idle         State = "IDLE"
)

// ErrInvalidTransition is wrapped by Transition for edges the session cannot take.
var ErrInvalidTransition = errors.New("invalid connectivity transition")

type edge struct{ from, to State }

// edges lists every allowed move. Any state may drop back to NotConnected
// except NotConnected itself.
var edges = map[edge]bool{
	{NotConnected, Connecting}: true,
	{Connecting, Fetching}:     true,
	{Connecting, Idle}:         true,
	{Connecting, NotConnected}: true,
	{Fetching, Idle}:           true,
	{Fetching, NotConnected}:   true,
	{Idle, Fetching}:           true,
	{Idle, NotConnected}:       true,
}

// StatusChange is the payload of connectivity events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// Machine holds the current connectivity and publishes every change.
type Machine struct {
	mu    sync.RWMutex
	state State
	since time.Time
	bus   *bus.Bus
	now   func() time.Time
}

// NewMachine starts in NotConnected. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{state: NotConnected, since: time.Now(), bus: b, now: time.Now}
}

// Current returns the current state.
func (m *Machine) Current() State {
	s, _ := m.Snapshot()
	return s
}

// Snapshot returns the current state and when it was entered.
func (m *Machine) Snapshot() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.since
}

// Transition moves to the given state. Staying in the current state is a
// no-op and publishes nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !edges[edge{from, to}] {
		m.mu.Unlock()
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	m.state, m.since = to, m.now()
	m.mu.Unlock()

	m.bus.Emit(bus.KindConnectivityChanged, StatusChange{From: from, To: to})
	return nil
}
