package store

import (
	"errors"
	"strings"
)

// ErrMsgNotFound is returned by LoadMessage when no row has the given id.
var ErrMsgNotFound = errors.New("message not found")

// MsgID is the per-account sequential message identifier.
type MsgID int64

// ChatID identifies a chat.
type ChatID int64

// ContactID identifies a contact.
type ContactID int64

const (
	// ContactSelf is the account owner.
	ContactSelf ContactID = 1
	// ContactInfo is the pseudo-sender of locally generated info messages.
	ContactInfo ContactID = 2
	// ContactLastSpecial is the highest reserved contact id.
	ContactLastSpecial ContactID = 9
)

// IsSpecial reports whether the id is reserved.
func (c ContactID) IsSpecial() bool { return c <= ContactLastSpecial }

const (
	// ChatTrash holds tombstoned messages. Rows in it only keep their Message-ID.
	ChatTrash ChatID = 3
	// ChatLastSpecial is the highest reserved chat id.
	ChatLastSpecial ChatID = 9
)

// IsSpecial reports whether the id is reserved.
func (c ChatID) IsSpecial() bool { return c <= ChatLastSpecial }

// Blocked values of the chats table.
const (
	ChatNotBlocked = 0
	ChatBlocked    = 1
	ChatRequest    = 2
)

// Viewtype is the kind of content a message carries.
type Viewtype int

const (
	ViewtypeUnknown Viewtype = 0
	ViewtypeText    Viewtype = 10
	ViewtypeFile    Viewtype = 60
	ViewtypeCall    Viewtype = 71
)

// InfoType is the persisted system-message kind of a message.
type InfoType int

const (
	InfoNone                  InfoType = 0
	InfoEphemeralTimerChanged InfoType = 10
	InfoOutgoingCall          InfoType = 20
	InfoIncomingCall          InfoType = 21
	InfoCallAccepted          InfoType = 22
	InfoCallEnded             InfoType = 23
	InfoMultiDeviceSync       InfoType = 30
)

// MessageState is the delivery state of a message.
type MessageState int

const (
	StateUndefined    MessageState = 0
	StateInFresh      MessageState = 10
	StateInSeen       MessageState = 16
	StateOutPending   MessageState = 20
	StateOutFailed    MessageState = 24
	StateOutDelivered MessageState = 26
)

// Chat is a row of the chats table.
type Chat struct {
	ID                 ChatID
	Name               string
	Blocked            int
	EphemeralTimer     uint32
	EphemeralChangeMID string
	EphemeralChangeTS  int64
	CreatedAt          int64
}

// IsContactRequest reports whether the chat still awaits acceptance.
func (c *Chat) IsContactRequest() bool { return c.Blocked == ChatRequest }

// Contact is a row of the contacts table.
type Contact struct {
	ID   ContactID
	Addr string
	Name string
}

// Message is a row of the msgs table.
type Message struct {
	ID                 MsgID
	RFC724MID          string
	ChatID             ChatID
	FromID             ContactID
	ToID               ContactID
	Timestamp          int64
	TimestampSent      int64
	TimestampRcvd      int64
	Viewtype           Viewtype
	InfoType           InfoType
	State              MessageState
	Text               string
	Param              Params
	Hidden             bool
	DownloadState      int
	EphemeralTimer     uint32
	EphemeralTimestamp int64
	InReplyTo          string
	References         []string
	LocationID         int64
}

// IsInfo reports whether the message is a system/info message.
func (m *Message) IsInfo() bool { return m.InfoType != InfoNone }

// IMAPLocation is the server-side coordinate of a message.
type IMAPLocation struct {
	Folder      string
	UID         uint32
	UIDValidity uint32
}

// SMTPJob is a queued outgoing MIME message.
type SMTPJob struct {
	ID         int64
	RFC724MID  string
	Recipients []string
	MIME       []byte
	MsgID      MsgID
	Retries    int
}

func joinRefs(refs []string) string { return strings.Join(refs, " ") }

func splitRefs(s string) []string { return strings.Fields(s) }
