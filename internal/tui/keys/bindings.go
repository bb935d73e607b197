// Package keys maps key presses to actions per screen.
package keys

import "github.com/gdamore/tcell/v2"

// Binding ties a key to a handler. Rune is used when Key is tcell.KeyRune.
type Binding struct {
	Key     tcell.Key
	Rune    rune
	Hint    string
	Handler func()
}

// Matches reports whether ev presses this binding's key.
func (b Binding) Matches(ev *tcell.EventKey) bool {
	if b.Key != tcell.KeyRune {
		return ev.Key() == b.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == b.Rune
}

// Registry holds bindings in registration order. Screen bindings shadow
// global ones bound to the same key.
type Registry struct {
	global []Binding
	screen map[string][]Binding
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{screen: make(map[string][]Binding)}
}

// Global binds b on every screen.
func (r *Registry) Global(b Binding) {
	r.global = append(r.global, b)
}

// On binds b on one screen.
func (r *Registry) On(screen string, b Binding) {
	r.screen[screen] = append(r.screen[screen], b)
}

// Dispatch runs the first binding on screen matching ev and reports
// whether one did.
func (r *Registry) Dispatch(screen string, ev *tcell.EventKey) bool {
	for _, set := range [][]Binding{r.screen[screen], r.global} {
		for _, b := range set {
			if b.Matches(ev) {
				b.Handler()
				return true
			}
		}
	}
	return false
}

// Hints lists the hints of screen bindings, then global ones. Bindings
// without a hint are skipped.
func (r *Registry) Hints(screen string) []string {
	var hints []string
	for _, set := range [][]Binding{r.screen[screen], r.global} {
		for _, b := range set {
			if b.Hint != "" {
				hints = append(hints, b.Hint)
			}
		}
	}
	return hints
}
