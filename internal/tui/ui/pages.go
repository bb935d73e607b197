package ui

import "github.com/rivo/tview"

// Pages keeps a stack of page names over tview.Pages. Only the top page is
// visible.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(top string)
}

// NewPages returns an empty stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange registers fn to run with the new top page after each change.
func (p *Pages) SetOnChange(fn func(top string)) {
	p.onChange = fn
}

// Push shows name on top of the current page.
func (p *Pages) Push(name string) {
	if top := p.Current(); top == name {
		return
	} else if top != "" {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.show(name)
}

// Pop returns to the previous page. The root page is never popped.
func (p *Pages) Pop() {
	if len(p.stack) < 2 {
		return
	}
	p.HidePage(p.Current())
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.Current())
}

// Reset leaves name as the only page on the stack.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.show(name)
}

// Current returns the top page, or "".
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Depth returns the stack size.
func (p *Pages) Depth() int {
	return len(p.stack)
}

func (p *Pages) show(name string) {
	p.ShowPage(name)
	p.SendToFront(name)
	if p.onChange != nil {
		p.onChange(name)
	}
}
