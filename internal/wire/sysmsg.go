// Package wire converts between chat semantics and RFC 5322 messages.
// Everything protocol-specific is decoded here once, so downstream
// components switch over closed types instead of re-reading headers.
package wire

import "github.com/matheus3301/chatmail/internal/store"

// Header names used by the chat protocol.
const (
	HeaderChatVersion        = "Chat-Version"
	HeaderChatContent        = "Chat-Content"
	HeaderEphemeralTimer     = "Ephemeral-Timer"
	HeaderPlaceCallInfo      = "Chat-Webrtc-Room"
	HeaderAcceptCallInfo     = "Chat-Webrtc-Accepted"
	HeaderContentDisposition = "Content-Disposition"

	ChatVersion = "1.0"
)

// SystemMessage is the command tag a message carries in Chat-Content.
type SystemMessage int

const (
	Unknown SystemMessage = iota
	EphemeralTimerChanged
	OutgoingCall
	IncomingCall
	CallAccepted
	CallEnded
	MultiDeviceSync
)

var sysmsgTags = map[SystemMessage]string{
	EphemeralTimerChanged: "ephemeral-timer-changed",
	OutgoingCall:          "outgoing-call",
	IncomingCall:          "incoming-call",
	CallAccepted:          "call-accepted",
	CallEnded:             "call-ended",
	MultiDeviceSync:       "multi-device-sync",
}

// Tag returns the header value, or "" for Unknown.
func (s SystemMessage) Tag() string { return sysmsgTags[s] }

func (s SystemMessage) String() string {
	if t := s.Tag(); t != "" {
		return t
	}
	return "unknown"
}

// ParseSystemMessage decodes a Chat-Content value. Unrecognized tags map to Unknown.
func ParseSystemMessage(tag string) SystemMessage {
	for s, t := range sysmsgTags {
		if t == tag {
			return s
		}
	}
	return Unknown
}

// IsCall reports whether the tag belongs to call signaling.
func (s SystemMessage) IsCall() bool {
	switch s {
	case OutgoingCall, IncomingCall, CallAccepted, CallEnded:
		return true
	}
	return false
}

// InfoType maps a system message to the persisted info type.
// fromSelf distinguishes our own call invites (seen on another device)
// from invites by a peer.
func (s SystemMessage) InfoType(fromSelf bool) store.InfoType {
	switch s {
	case EphemeralTimerChanged:
		return store.InfoEphemeralTimerChanged
	case OutgoingCall, IncomingCall:
		if fromSelf {
			return store.InfoOutgoingCall
		}
		return store.InfoIncomingCall
	case CallAccepted:
		return store.InfoCallAccepted
	case CallEnded:
		return store.InfoCallEnded
	case MultiDeviceSync:
		return store.InfoMultiDeviceSync
	}
	return store.InfoNone
}

// FromInfoType is the inverse of InfoType for outgoing messages.
func FromInfoType(t store.InfoType) SystemMessage {
	switch t {
	case store.InfoEphemeralTimerChanged:
		return EphemeralTimerChanged
	case store.InfoOutgoingCall:
		return OutgoingCall
	case store.InfoIncomingCall:
		return IncomingCall
	case store.InfoCallAccepted:
		return CallAccepted
	case store.InfoCallEnded:
		return CallEnded
	case store.InfoMultiDeviceSync:
		return MultiDeviceSync
	}
	return Unknown
}
