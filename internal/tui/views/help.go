package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatmail/internal/tui/ui"
	"github.com/rivo/tview"
)

// Help lists keys and commands.
type Help struct {
	*tview.TextView
}

var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Keys", [][2]string{
		{"Enter / 1-9", "open chat"},
		{"/", "filter chats"},
		{":", "command prompt"},
		{"i", "write in open chat"},
		{"Esc", "back"},
		{"?", "this help"},
		{"q", "quit"},
	}},
	{"Commands", [][2]string{
		{":new ADDR", "start a chat"},
		{":accept-chat", "accept a contact request"},
		{":timer SECS|off", "set the disappearing-messages timer"},
		{":react ID EMOJI", "react to message ID, no emoji retracts"},
		{":download ID", "fetch the rest of a partial message"},
		{":call", "ring the open chat"},
		{":accept", "pick up the incoming call"},
		{":hangup", "end, cancel or decline the call"},
		{":quit", "quit"},
	}},
}

// NewHelp returns the help page.
func NewHelp(theme *ui.Theme) *Help {
	tv := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.Border)
	tv.SetBackgroundColor(theme.Bg)
	tv.SetTextColor(theme.Fg)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.Title)

	var b strings.Builder
	key := ui.Tag(theme.Key)
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			fmt.Fprintf(&b, "  [%s]%-18s[-] %s\n", key, tview.Escape(r[0]), r[1])
		}
	}
	tv.SetText(b.String())
	return &Help{TextView: tv}
}
