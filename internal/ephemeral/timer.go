// Package ephemeral implements disappearing messages: the per-chat timer,
// the sweeps that delete expired messages locally and on the server, and
// the negotiation of timer changes received over mail.
package ephemeral

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxSecondsToLendFromFuture bounds how far an outgoing timestamp may be
	// moved forward to keep per-account timestamps strictly increasing.
	MaxSecondsToLendFromFuture = 30

	// MinDeleteServerAfter keeps not-yet-downloaded messages on the server
	// long enough for the user to open the app.
	MinDeleteServerAfter = int64(48 * 60 * 60)
)

// Timer is the per-chat ephemeral setting. The zero value is Disabled.
type Timer struct {
	Duration uint32
}

// Disabled is the timer of chats without disappearing messages.
var Disabled = Timer{}

// Enabled returns a timer deleting messages after d seconds. Enabled(0) is Disabled.
func Enabled(d uint32) Timer { return Timer{Duration: d} }

// FromU32 decodes the stored or transmitted representation.
func FromU32(v uint32) Timer { return Timer{Duration: v} }

// ToU32 encodes the timer, 0 meaning disabled.
func (t Timer) ToU32() uint32 { return t.Duration }

func (t Timer) IsEnabled() bool { return t.Duration != 0 }

// ParseHeader decodes an Ephemeral-Timer header value.
func ParseHeader(v string) (Timer, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return Disabled, fmt.Errorf("parse ephemeral timer %q: %w", v, err)
	}
	return FromU32(uint32(n)), nil
}

// Stamp returns the absolute expiry for a message stamped at ts, or 0 for never.
func (t Timer) Stamp(ts int64) int64 {
	if !t.IsEnabled() {
		return 0
	}
	return ts + int64(t.Duration)
}

// String renders the timer for info messages, e.g. "1 hour" or "90 s".
func (t Timer) String() string {
	if !t.IsEnabled() {
		return "disabled"
	}
	d := int64(t.Duration)
	units := []struct {
		secs int64
		name string
	}{
		{int64(7 * 24 * time.Hour / time.Second), "week"},
		{int64(24 * time.Hour / time.Second), "day"},
		{int64(time.Hour / time.Second), "hour"},
		{int64(time.Minute / time.Second), "minute"},
	}
	for _, u := range units {
		if d%u.secs == 0 {
			n := d / u.secs
			if n == 1 {
				return "1 " + u.name
			}
			return fmt.Sprintf("%d %ss", n, u.name)
		}
	}
	return fmt.Sprintf("%d s", d)
}

// infoText is the text of the info message shown when the timer changes.
func infoText(t Timer) string {
	if !t.IsEnabled() {
		return "Message deletion timer is disabled."
	}
	return fmt.Sprintf("Message deletion timer is set to %s.", t)
}
