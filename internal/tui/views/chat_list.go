package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatmail/internal/tui/model"
	"github.com/matheus3301/chatmail/internal/tui/ui"
	"github.com/rivo/tview"
)

// ChatList is the table of chats.
type ChatList struct {
	*tview.Table
	theme   *ui.Theme
	chats   []model.Chat
	visible []int64
	filter  string
}

// NewChatList returns an empty chat table.
func NewChatList(theme *ui.Theme) *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.Border)
	table.SetBackgroundColor(theme.Bg)
	table.SetTitleColor(theme.Title)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.CursorFg).Background(theme.CursorBg))
	return &ChatList{Table: table, theme: theme}
}

// Update replaces the rows, keeping the cursor on the same chat when it
// is still listed.
func (cl *ChatList) Update(chats []model.Chat) {
	selected := cl.Selected()
	cl.chats = chats
	cl.render()
	for i, id := range cl.visible {
		if id == selected {
			cl.Select(i+1, 0)
			return
		}
	}
	if len(cl.visible) > 0 {
		cl.Select(1, 0)
	}
}

// SetFilter narrows the rows to chats whose name contains text, ignoring
// case. An empty filter shows all.
func (cl *ChatList) SetFilter(text string) {
	cl.filter = strings.ToLower(text)
	cl.Update(cl.chats)
}

func (cl *ChatList) render() {
	cl.Clear()
	for col, h := range []string{" #", " NAME", " TIMER", " "} {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.HeaderFg).
			SetAttributes(tcell.AttrBold))
	}

	cl.visible = cl.visible[:0]
	for _, c := range cl.chats {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("chat %d", c.ID)
		}
		if cl.filter != "" && !strings.Contains(strings.ToLower(name), cl.filter) {
			continue
		}
		cl.visible = append(cl.visible, c.ID)
		row := len(cl.visible)

		var mark string
		switch {
		case c.Blocked:
			mark = "blocked"
		case c.ContactRequest:
			mark = "request"
		}
		cl.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf(" %d", row)).SetTextColor(cl.theme.Muted))
		cl.SetCell(row, 1, tview.NewTableCell(" "+oneLine(name)).SetExpansion(1).SetTextColor(cl.theme.Fg))
		cl.SetCell(row, 2, tview.NewTableCell(" "+timerLabel(c.Timer)).SetTextColor(cl.theme.Fg).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(" "+mark).SetTextColor(cl.theme.FlashWarn))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Chats (%d/%d) /%s ", len(cl.visible), len(cl.chats), cl.filter))
	} else {
		cl.SetTitle(fmt.Sprintf(" Chats (%d) ", len(cl.chats)))
	}
}

// Selected returns the chat id under the cursor, or 0.
func (cl *ChatList) Selected() int64 {
	row, _ := cl.GetSelection()
	return cl.At(row)
}

// At returns the chat id shown on 1-based row n, or 0.
func (cl *ChatList) At(n int) int64 {
	if n < 1 || n > len(cl.visible) {
		return 0
	}
	return cl.visible[n-1]
}
