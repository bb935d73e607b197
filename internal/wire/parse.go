package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// maxBodySize caps the text extracted from a message body.
const maxBodySize = 256 * 1024

// Parsed is the chat-level view of one received message.
type Parsed struct {
	MessageID string
	FromAddr  string
	FromName  string
	To        []string
	Date      time.Time
	Subject   string
	Text      string

	// IsChatMessage is set when the sender speaks the chat protocol.
	IsChatMessage bool
	SystemMessage SystemMessage

	// EphemeralTimer is 0 when the header is absent or disables the timer.
	EphemeralTimer uint32

	IsReaction bool

	InReplyTo  string
	References []string

	PlaceCallInfo  string
	AcceptCallInfo string
}

// Parse reads a full message or a header-only message (partial download).
// Unknown charsets are tolerated.
func Parse(r io.Reader) (*Parsed, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if entity == nil {
		return nil, fmt.Errorf("read message: no entity")
	}
	h := mail.Header{Header: entity.Header}

	p := &Parsed{}
	if p.MessageID, err = h.MessageID(); err != nil || p.MessageID == "" {
		return nil, fmt.Errorf("parse Message-ID: missing or malformed")
	}
	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 {
		return nil, fmt.Errorf("parse From: missing or malformed")
	}
	p.FromAddr = strings.ToLower(from[0].Address)
	p.FromName = from[0].Name

	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			p.To = append(p.To, strings.ToLower(a.Address))
		}
	}
	if p.Date, err = h.Date(); err != nil {
		p.Date = time.Time{}
	}
	p.Subject, _ = h.Subject()

	p.IsChatMessage = h.Has(HeaderChatVersion)
	p.SystemMessage = ParseSystemMessage(strings.TrimSpace(h.Get(HeaderChatContent)))
	p.EphemeralTimer = parseTimer(h.Get(HeaderEphemeralTimer))

	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		p.InReplyTo = ids[0]
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		p.References = refs
	}
	p.PlaceCallInfo = decodeCallInfo(h.Get(HeaderPlaceCallInfo))
	p.AcceptCallInfo = decodeCallInfo(h.Get(HeaderAcceptCallInfo))

	if disp, _, err := entity.Header.ContentDisposition(); err == nil && disp == "reaction" {
		p.IsReaction = true
	}

	text, reaction, err := extractText(entity)
	if err != nil {
		return nil, err
	}
	p.Text = text
	p.IsReaction = p.IsReaction || reaction
	return p, nil
}

// extractText returns the first text/plain body and whether that part was
// marked as a reaction.
func extractText(e *message.Entity) (string, bool, error) {
	if mr := e.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return "", false, nil
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return "", false, fmt.Errorf("next part: %w", err)
			}
			if part == nil {
				continue
			}
			text, reaction, err := extractText(part)
			if err != nil {
				return "", false, err
			}
			disp, _, _ := part.Header.ContentDisposition()
			if text != "" || reaction || disp == "reaction" {
				return text, reaction || disp == "reaction", nil
			}
		}
	}

	t, _, err := e.Header.ContentType()
	if err == nil && t != "" && t != "text/plain" {
		return "", false, nil
	}
	body, err := io.ReadAll(io.LimitReader(e.Body, maxBodySize))
	if err != nil {
		return "", false, fmt.Errorf("read body: %w", err)
	}
	return strings.TrimRight(string(body), "\r\n"), false, nil
}

// parseTimer decodes Ephemeral-Timer. Absent or malformed values mean disabled.
func parseTimer(v string) uint32 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

// encodeCallInfo base64-encodes call info in whitespace separated chunks so
// the header can be folded.
func encodeCallInfo(s string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(s))
	var chunks []string
	for len(enc) > 76 {
		chunks = append(chunks, enc[:76])
		enc = enc[76:]
	}
	chunks = append(chunks, enc)
	return strings.Join(chunks, " ")
}

func decodeCallInfo(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return ""
	}
	return string(b)
}

// ParseHeaderOnly parses the header block of a message whose body was not
// fetched. The result has no text.
func ParseHeaderOnly(header []byte) (*Parsed, error) {
	if !bytes.HasSuffix(header, []byte("\r\n\r\n")) && !bytes.HasSuffix(header, []byte("\n\n")) {
		header = append(append([]byte(nil), header...), "\r\n"...)
	}
	p, err := Parse(bytes.NewReader(header))
	if err != nil {
		return nil, err
	}
	p.Text = ""
	return p, nil
}
