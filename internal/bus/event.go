package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by prefix, e.g. "msg." or "call.".
const (
	KindMsgsChanged                = "msg.changed"
	KindIncomingMsg                = "msg.incoming"
	KindMsgDeleted                 = "msg.deleted"
	KindMsgSendFailed              = "msg.send_failed"
	KindReactionsChanged           = "msg.reactions_changed"
	KindIncomingReaction           = "msg.incoming_reaction"
	KindChatEphemeralTimerModified = "chat.ephemeral_timer_modified"
	KindIncomingCall               = "call.incoming"
	KindIncomingCallAccepted       = "call.incoming_accepted"
	KindOutgoingCallAccepted       = "call.outgoing_accepted"
	KindCallEnded                  = "call.ended"
	KindIMAPMessage                = "imap.message"
	KindConnectivityChanged        = "io.connectivity_changed"
)

// MsgEvent is the payload of message-scoped events.
type MsgEvent struct {
	ChatID int64 `json:"chat_id"`
	MsgID  int64 `json:"msg_id"`
}

// ReactionEvent is the payload of reaction events.
type ReactionEvent struct {
	ChatID    int64  `json:"chat_id"`
	MsgID     int64  `json:"msg_id"`
	ContactID int64  `json:"contact_id"`
	Reaction  string `json:"reaction"`
}

// TimerEvent is the payload of KindChatEphemeralTimerModified.
type TimerEvent struct {
	ChatID int64  `json:"chat_id"`
	Timer  uint32 `json:"timer"`
}

// CallEvent is the payload of call events. Info carries the peer's
// place/accept call info where the event has one.
type CallEvent struct {
	ChatID int64  `json:"chat_id"`
	MsgID  int64  `json:"msg_id"`
	Info   string `json:"info"`
}

// IMAPMessage is the payload of KindIMAPMessage: one message fetched from
// the server. Raw holds the full message, or only its header when Partial.
type IMAPMessage struct {
	Folder      string `json:"folder"`
	UID         uint32 `json:"uid"`
	UIDValidity uint32 `json:"uid_validity"`
	Size        uint32 `json:"size"`
	Partial     bool   `json:"partial"`
	Raw         []byte `json:"-"`
}

// NewEvent returns an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
