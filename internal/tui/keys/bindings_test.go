package keys

import (
	"slices"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestDispatchPrefersScreenBinding(t *testing.T) {
	var got []string
	r := NewRegistry()
	r.Global(Binding{Key: tcell.KeyRune, Rune: 'q', Hint: "q:quit", Handler: func() { got = append(got, "quit") }})
	r.Global(Binding{Key: tcell.KeyCtrlR, Handler: func() { got = append(got, "reload") }})
	r.On("chat", Binding{Key: tcell.KeyRune, Rune: 'q', Hint: "q:back", Handler: func() { got = append(got, "back") }})

	tests := []struct {
		screen string
		ev     *tcell.EventKey
		want   string
	}{
		{"chats", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone), "quit"},
		{"chat", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone), "back"},
		{"chat", tcell.NewEventKey(tcell.KeyCtrlR, 0, tcell.ModCtrl), "reload"},
	}
	for _, tt := range tests {
		got = nil
		if !r.Dispatch(tt.screen, tt.ev) {
			t.Errorf("%s: %v not handled", tt.screen, tt.ev.Name())
			continue
		}
		if len(got) != 1 || got[0] != tt.want {
			t.Errorf("%s: ran %v, want %s", tt.screen, got, tt.want)
		}
	}

	if r.Dispatch("chats", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key reported as handled")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	nop := func() {}
	r.Global(Binding{Key: tcell.KeyRune, Rune: '?', Hint: "?:help", Handler: nop})
	r.Global(Binding{Key: tcell.KeyCtrlR, Handler: nop})
	r.On("chat", Binding{Key: tcell.KeyRune, Rune: 'i', Hint: "i:compose", Handler: nop})
	r.On("chat", Binding{Key: tcell.KeyRune, Rune: 'c', Hint: "c:call", Handler: nop})

	want := []string{"i:compose", "c:call", "?:help"}
	if got := r.Hints("chat"); !slices.Equal(got, want) {
		t.Errorf("hints = %v, want %v", got, want)
	}
	if got := r.Hints("chats"); !slices.Equal(got, []string{"?:help"}) {
		t.Errorf("global hints = %v", got)
	}
}
