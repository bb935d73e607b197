package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatmail/internal/tui/model"
)

// clock formats a unix timestamp as HH:MM today, or MM/DD otherwise.
func clock(unix int64, now time.Time) string {
	if unix == 0 {
		return ""
	}
	t := time.Unix(unix, 0).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// expiry shows how long a disappearing message has left.
func expiry(expiresAt int64, now time.Time) string {
	if expiresAt == 0 {
		return ""
	}
	left := time.Unix(expiresAt, 0).Sub(now).Round(time.Second)
	if left <= 0 {
		return "⏱ now"
	}
	return "⏱ " + left.String()
}

// timerLabel shortens a chat timer in seconds for the chat list.
func timerLabel(secs int64) string {
	switch {
	case secs <= 0:
		return "off"
	case secs%(7*86400) == 0:
		return fmt.Sprintf("%dw", secs/(7*86400))
	case secs%86400 == 0:
		return fmt.Sprintf("%dd", secs/86400)
	case secs%3600 == 0:
		return fmt.Sprintf("%dh", secs/3600)
	case secs%60 == 0:
		return fmt.Sprintf("%dm", secs/60)
	}
	return fmt.Sprintf("%ds", secs)
}

// callLine describes c for the call bar. A nil or finished call shows
// nothing.
func callLine(c *model.Call, chat string) string {
	if c == nil {
		return ""
	}
	switch c.State {
	case "ringing":
		if c.Incoming {
			return fmt.Sprintf("incoming call from %s (%ds left)  :accept  :hangup", chat, c.RingSeconds)
		}
		return fmt.Sprintf("calling %s...  :hangup", chat)
	case "accepted":
		return fmt.Sprintf("in call with %s  :hangup", chat)
	case "ended":
		return fmt.Sprintf("call with %s ended", chat)
	}
	return ""
}
