package wire

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Outgoing is everything needed to render one chat message as MIME.
type Outgoing struct {
	FromAddr string
	FromName string
	To       []string

	// MessageID is the bare Message-ID, without angle brackets.
	MessageID string
	Date      time.Time
	Subject   string
	Text      string

	SystemMessage SystemMessage

	// EphemeralTimer is the chat timer in seconds, 0 when disabled.
	EphemeralTimer uint32

	// Reaction marks the body as a reaction to InReplyTo.
	Reaction bool

	InReplyTo  string
	References []string

	PlaceCallInfo  string
	AcceptCallInfo string
}

// Compose renders msg as a single-part RFC 5322 message.
func Compose(msg *Outgoing) ([]byte, error) {
	if msg.MessageID == "" {
		return nil, fmt.Errorf("compose: missing Message-ID")
	}
	from := &mail.Address{Name: msg.FromName, Address: msg.FromAddr}

	var h mail.Header
	h.SetDate(msg.Date)
	h.SetMessageID(msg.MessageID)
	h.SetAddressList("From", []*mail.Address{from})

	to := make([]*mail.Address, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, &mail.Address{Address: addr})
	}
	if len(to) == 0 {
		to = append(to, from)
	}
	h.SetAddressList("To", to)

	subject := msg.Subject
	if subject == "" {
		subject = "Message from " + msg.FromAddr
	}
	h.SetSubject(subject)
	h.Set(HeaderChatVersion, ChatVersion)

	if msg.SystemMessage != Unknown {
		h.Set(HeaderChatContent, msg.SystemMessage.Tag())
	}
	// A disabled timer is encoded by omission, except on an explicit change.
	if msg.EphemeralTimer != 0 || msg.SystemMessage == EphemeralTimerChanged {
		h.Set(HeaderEphemeralTimer, strconv.FormatUint(uint64(msg.EphemeralTimer), 10))
	}
	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
	}
	if refs := threadReferences(msg.References, msg.InReplyTo); len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}
	if msg.PlaceCallInfo != "" {
		h.Set(HeaderPlaceCallInfo, encodeCallInfo(msg.PlaceCallInfo))
	}
	if msg.AcceptCallInfo != "" {
		h.Set(HeaderAcceptCallInfo, encodeCallInfo(msg.AcceptCallInfo))
	}

	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	if msg.Reaction {
		h.SetContentDisposition("reaction", nil)
	}

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Text); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close body: %w", err)
	}
	return buf.Bytes(), nil
}

// threadReferences appends the parent to the References chain unless it is
// already the last entry.
func threadReferences(refs []string, parent string) []string {
	out := append([]string(nil), refs...)
	if parent != "" && (len(out) == 0 || out[len(out)-1] != parent) {
		out = append(out, parent)
	}
	return out
}
