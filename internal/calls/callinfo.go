// Package calls implements call signaling on top of chat messages.
//
// A call is the root message (OutgoingCall or IncomingCall) plus the hidden
// CallAccepted and CallEnded messages replying to it. No call state is stored
// apart from flags on the root; the state is derived on every access.
package calls

import (
	"errors"
	"fmt"

	"github.com/matheus3301/chatmail/internal/store"
)

// RingingSeconds is how long a call rings before it times out.
const RingingSeconds = 60

var (
	ErrNotACall    = errors.New("message is not a call")
	ErrNotIncoming = errors.New("call is not incoming")
)

// State is the derived state of a call.
type State int

const (
	Ringing State = iota
	Accepted
	Ended
	// Stale is an incoming call that arrived after it stopped ringing.
	Stale
)

func (s State) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case Accepted:
		return "accepted"
	case Ended:
		return "ended"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CallInfo is the view of a call derived from its root message.
type CallInfo struct {
	Incoming   bool
	Accepted   bool
	Ended      bool
	AcceptedAt int64
	Msg        *store.Message
}

// Derive builds the call view of root. endedChild reports whether a
// CallEnded message replying to root is known.
func Derive(root *store.Message, endedChild bool) (*CallInfo, error) {
	switch root.InfoType {
	case store.InfoIncomingCall, store.InfoOutgoingCall:
	default:
		return nil, fmt.Errorf("message %d: %w", root.ID, ErrNotACall)
	}
	return &CallInfo{
		Incoming:   root.InfoType == store.InfoIncomingCall,
		Accepted:   root.Param.Exists(store.ParamCallAccepted),
		AcceptedAt: root.Param.GetInt64(store.ParamCallAccepted),
		Ended:      endedChild || root.Param.Exists(store.ParamCallEnded),
		Msg:        root,
	}, nil
}

// PlaceCallInfo is the caller's session description.
func (c *CallInfo) PlaceCallInfo() string { return c.Msg.Param.Get(store.ParamPlaceCallInfo) }

// AcceptCallInfo is the callee's session description, if accepted.
func (c *CallInfo) AcceptCallInfo() string { return c.Msg.Param.Get(store.ParamAcceptCallInfo) }

// RemainingRingSeconds returns how long the call still rings at now,
// between 0 and RingingSeconds.
func (c *CallInfo) RemainingRingSeconds(now int64) int64 {
	remaining := c.Msg.TimestampSent + RingingSeconds - now
	return min(max(remaining, 0), RingingSeconds)
}

// IsStale reports whether the call stopped ringing before now.
func (c *CallInfo) IsStale(now int64) bool {
	return c.Msg.TimestampSent+RingingSeconds-now <= 0
}

// State derives the call state at now.
func (c *CallInfo) State(now int64) State {
	switch {
	case c.Ended:
		return Ended
	case c.Accepted:
		return Accepted
	case c.IsStale(now) && c.Incoming:
		return Stale
	case c.IsStale(now):
		return Ended
	}
	return Ringing
}

// timedOut is the re-check of a ring watcher waking up: the call ends
// locally if nobody accepted or ended it meanwhile.
func timedOut(c *CallInfo) bool {
	return !c.Accepted && !c.Ended
}
