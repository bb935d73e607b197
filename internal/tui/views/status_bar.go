package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatmail/internal/tui/model"
	"github.com/matheus3301/chatmail/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar is the bottom line: account, connectivity, key hints and the
// flash message.
type StatusBar struct {
	*tview.TextView
	theme  *ui.Theme
	status model.Status
	hints  []string
	flash  string
	level  model.FlashLevel
}

// NewStatusBar returns an empty status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.StatusBarBg)
	return &StatusBar{TextView: tv, theme: theme}
}

// SetStatus records the account status.
func (sb *StatusBar) SetStatus(st model.Status) {
	sb.status = st
	sb.render()
}

// SetHints records the key hints of the current screen.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash records the flash message; "" clears it.
func (sb *StatusBar) SetFlash(text string, level model.FlashLevel) {
	sb.flash, sb.level = text, level
	sb.render()
}

func (sb *StatusBar) render() {
	sb.SetText(statusLine(sb.theme, sb.status, sb.hints, sb.flash, sb.level, time.Now()))
}

func statusLine(theme *ui.Theme, st model.Status, hints []string, flash string, level model.FlashLevel, now time.Time) string {
	who := st.Account
	if st.Addr != "" {
		who += " <" + st.Addr + ">"
	}
	state := st.State
	if state == "" {
		state = "UNKNOWN"
	}
	if !st.Since.IsZero() {
		state += " " + now.Sub(st.Since).Round(time.Second).String()
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | [%s]%s[-]", clean(who), state, ui.Tag(theme.Key), strings.Join(hints, " "))
	if flash != "" {
		color := theme.FlashInfo
		switch level {
		case model.FlashWarn:
			color = theme.FlashWarn
		case model.FlashErr:
			color = theme.FlashErr
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.Tag(color), clean(flash))
	}
	return line
}
