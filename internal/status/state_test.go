package status

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
)

// pathTo lists the transitions that reach each state from NotConnected.
var pathTo = map[State][]State{
	NotConnected: nil,
	Connecting:   {Connecting},
	Fetching:     {Connecting, Fetching},
	Idle:         {Connecting, Fetching, Idle},
}

func machineAt(t *testing.T, target State) *Machine {
	t.Helper()
	m := NewMachine(nil)
	for _, s := range pathTo[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("reach %s: %v", target, err)
		}
	}
	return m
}

func TestTransitions(t *testing.T) {
	all := []State{NotConnected, Connecting, Fetching, Idle}
	allowed := map[State][]State{
		NotConnected: {Connecting},
		Connecting:   {Fetching, Idle, NotConnected},
		Fetching:     {Idle, NotConnected},
		Idle:         {Fetching, NotConnected},
	}
	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			want := false
			for _, a := range allowed[from] {
				want = want || a == to
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				m := machineAt(t, from)
				err := m.Transition(to)
				if want && err != nil {
					t.Fatalf("Transition() error = %v", err)
				}
				if !want && !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("Transition() error = %v, want ErrInvalidTransition", err)
				}
				wantState := from
				if want {
					wantState = to
				}
				if m.Current() != wantState {
					t.Errorf("state = %s, want %s", m.Current(), wantState)
				}
			})
		}
	}
}

func TestTransitionPublishesChange(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("io.", 10)
	defer unsub()

	m := NewMachine(b)
	at := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return at }

	if err := m.Transition(NotConnected); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	change, ok := evt.Payload.(StatusChange)
	if evt.Kind != bus.KindConnectivityChanged || !ok {
		t.Fatalf("event = %+v", evt)
	}
	if change.From != NotConnected || change.To != Connecting {
		t.Errorf("change = %+v", change)
	}
	select {
	case extra := <-ch:
		t.Errorf("same-state transition published %+v", extra)
	default:
	}
	if s, since := m.Snapshot(); s != Connecting || !since.Equal(at) {
		t.Errorf("snapshot = %s since %v", s, since)
	}
}
