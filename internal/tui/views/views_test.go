package views

import (
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatmail/internal/tui/model"
	"github.com/matheus3301/chatmail/internal/tui/ui"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"👍🏽", "👍"},
		{"❤️", "❤"},
		{"a\x1b[31mb", "a [31mb"},
		{"[red]x", "[red[]x"},
		{"two\nlines", "two\nlines"},
	}
	for _, tt := range tests {
		if got := clean(tt.in); got != tt.want {
			t.Errorf("clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := oneLine("a\nb"); got != "a b" {
		t.Errorf("oneLine = %q", got)
	}
}

func TestTimerLabel(t *testing.T) {
	tests := []struct {
		secs int64
		want string
	}{
		{0, "off"},
		{30, "30s"},
		{300, "5m"},
		{3600, "1h"},
		{86400, "1d"},
		{7 * 86400, "1w"},
		{90, "90s"},
	}
	for _, tt := range tests {
		if got := timerLabel(tt.secs); got != tt.want {
			t.Errorf("timerLabel(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	if got := expiry(0, now); got != "" {
		t.Errorf("no expiry = %q", got)
	}
	if got := expiry(1042, now); got != "⏱ 42s" {
		t.Errorf("expiry = %q", got)
	}
	if got := expiry(999, now); got != "⏱ now" {
		t.Errorf("past expiry = %q", got)
	}
}

func TestCallLine(t *testing.T) {
	tests := []struct {
		name string
		call *model.Call
		want string
	}{
		{"none", nil, ""},
		{"incoming", &model.Call{Incoming: true, State: "ringing", RingSeconds: 30}, "incoming call from bob (30s left)"},
		{"outgoing", &model.Call{State: "ringing"}, "calling bob"},
		{"accepted", &model.Call{State: "accepted"}, "in call with bob"},
		{"ended", &model.Call{State: "ended"}, "call with bob ended"},
		{"stale", &model.Call{Incoming: true, State: "stale"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := callLine(tt.call, "bob")
			if tt.want == "" && got != "" || !strings.HasPrefix(got, tt.want) {
				t.Errorf("callLine = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestRenderThread(t *testing.T) {
	now := time.Unix(1000, 0)
	out := renderThread(ui.DefaultTheme(), []model.Message{
		{ID: 1, Text: "Message deletion timer is set to 1 minute.", Info: true},
		{ID: 2, Text: "hello", Timestamp: 990, ExpiresAt: 1060, Reactions: "❤1 👍2"},
		{ID: 3, Text: "partial", Outgoing: true, Download: "available"},
	}, now)

	for _, want := range []string{
		"-- Message deletion timer is set to 1 minute. --",
		"them[-:-:-]",
		"#2 ⏱ 1m0s",
		"❤1 👍2",
		"you[-:-:-]",
		":download 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("thread missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "#1 ") != 0 {
		t.Errorf("info message rendered with a header:\n%s", out)
	}
}

func TestStatusLine(t *testing.T) {
	theme := ui.DefaultTheme()
	now := time.Unix(1000, 0)
	st := model.Status{Account: "work", Addr: "alice@example.org", State: "IDLE", Since: now.Add(-90 * time.Second)}
	line := statusLine(theme, st, []string{"q:quit"}, "", model.FlashInfo, now)
	for _, want := range []string{"work <alice@example.org>", "IDLE 1m30s", "q:quit"} {
		if !strings.Contains(line, want) {
			t.Errorf("status line %q missing %q", line, want)
		}
	}

	line = statusLine(theme, model.Status{}, nil, "send failed", model.FlashErr, now)
	if !strings.Contains(line, "UNKNOWN") || !strings.Contains(line, ui.Tag(theme.FlashErr)+"]send failed") {
		t.Errorf("status line = %q", line)
	}
}

func TestChatListFilterAndSelection(t *testing.T) {
	cl := NewChatList(ui.DefaultTheme())
	cl.Update([]model.Chat{
		{ID: 10, Name: "Bob"},
		{ID: 11, Name: "Carol", ContactRequest: true},
		{ID: 12, Name: "bobby", Timer: 3600},
	})
	if cl.At(1) != 10 || cl.At(3) != 12 || cl.At(4) != 0 || cl.At(0) != 0 {
		t.Errorf("rows = %d %d %d", cl.At(1), cl.At(2), cl.At(3))
	}
	if cl.Selected() != 10 {
		t.Errorf("initial selection = %d", cl.Selected())
	}

	cl.Select(3, 0)
	cl.SetFilter("BOB")
	if cl.At(1) != 10 || cl.At(2) != 12 || cl.At(3) != 0 {
		t.Errorf("filtered rows = %d %d %d", cl.At(1), cl.At(2), cl.At(3))
	}
	if cl.Selected() != 12 {
		t.Errorf("selection after filter = %d, want 12", cl.Selected())
	}
	if got := cl.GetCell(2, 2).Text; got != " 1h" {
		t.Errorf("timer cell = %q", got)
	}

	cl.SetFilter("")
	if cl.GetCell(2, 3).Text != " request" {
		t.Errorf("request mark = %q", cl.GetCell(2, 3).Text)
	}
}
