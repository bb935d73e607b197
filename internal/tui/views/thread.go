package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatmail/internal/tui/model"
	"github.com/matheus3301/chatmail/internal/tui/ui"
	"github.com/rivo/tview"
)

// Thread shows one chat: its messages with reactions and expiry, and a
// composer below.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
	now      func() time.Time
}

// NewThread returns an empty thread view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.Border)
	messages.SetBackgroundColor(theme.Bg)
	messages.SetTextColor(theme.Fg)
	messages.SetTitleColor(theme.Title)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("i to write, :help for commands")
	composer.SetBorder(true)
	composer.SetBorderColor(theme.Border)
	composer.SetBackgroundColor(theme.Bg)
	composer.SetFieldBackgroundColor(theme.Bg)
	composer.SetFieldTextColor(theme.Fg)
	composer.SetLabelColor(theme.Key)

	t := &Thread{
		Flex: tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(messages, 0, 1, true).
			AddItem(composer, 3, 0, false),
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || t.onSend == nil {
			return
		}
		if text := strings.TrimSpace(composer.GetText()); text != "" {
			t.onSend(text)
			composer.SetText("")
		}
	})
	return t
}

// SetOnSend registers the handler for submitted composer text.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// Composer returns the input field for focus changes.
func (t *Thread) Composer() *tview.InputField { return t.composer }

// Messages returns the scrollable message pane.
func (t *Thread) Messages() *tview.TextView { return t.messages }

// Update redraws the thread of chat with the given timer text.
func (t *Thread) Update(chat, timer string, msgs []model.Message) {
	title := " " + oneLine(chat) + " "
	if timer != "" && timer != "disabled" {
		title += "⏱ " + timer + " "
	}
	t.messages.SetTitle(title)
	t.messages.SetText(renderThread(t.theme, msgs, t.now()))
	t.messages.ScrollToEnd()
}

func renderThread(theme *ui.Theme, msgs []model.Message, now time.Time) string {
	var b strings.Builder
	muted := ui.Tag(theme.Muted)
	for _, m := range msgs {
		if m.Info {
			fmt.Fprintf(&b, "[%s]-- %s --[-]\n\n", muted, clean(m.Text))
			continue
		}
		who, color := "them", theme.Incoming
		if m.Outgoing {
			who, color = "you", theme.Outgoing
		}
		meta := []string{clock(m.Timestamp, now), fmt.Sprintf("#%d", m.ID)}
		if e := expiry(m.ExpiresAt, now); e != "" {
			meta = append(meta, e)
		}
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [%s]%s[-]\n", ui.Tag(color), who, muted, strings.Join(meta, " "))
		b.WriteString(clean(m.Text))
		b.WriteByte('\n')
		switch m.Download {
		case "available", "failure":
			fmt.Fprintf(&b, "[%s](partial, :download %d)[-]\n", muted, m.ID)
		case "in_progress":
			fmt.Fprintf(&b, "[%s](downloading)[-]\n", muted)
		}
		if m.Reactions != "" {
			fmt.Fprintf(&b, "  [%s]%s[-]\n", ui.Tag(theme.Reaction), clean(m.Reactions))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
