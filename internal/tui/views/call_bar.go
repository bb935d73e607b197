package views

import (
	"github.com/matheus3301/chatmail/internal/tui/model"
	"github.com/matheus3301/chatmail/internal/tui/ui"
	"github.com/rivo/tview"
)

// CallBar is a one-line banner for the current call. It is blank when no
// call is known.
type CallBar struct {
	*tview.TextView
	theme *ui.Theme
}

// NewCallBar returns a blank call bar.
func NewCallBar(theme *ui.Theme) *CallBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.Bg)
	return &CallBar{TextView: tv, theme: theme}
}

// Update shows c, naming the peer chat.
func (cb *CallBar) Update(c *model.Call, chat string) {
	line := callLine(c, clean(chat))
	if line == "" {
		cb.SetText("")
		return
	}
	color := cb.theme.Muted
	switch c.State {
	case "ringing":
		color = cb.theme.Ringing
	case "accepted":
		color = cb.theme.InCall
	}
	cb.SetText(" [" + ui.Tag(color) + "::b]" + line + "[-:-:-]")
}
