package imapsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// maxRawMessageSize caps how much of one literal is buffered.
const maxRawMessageSize = 64 * 1024 * 1024

// Config is the incoming server of an account.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	Folder   string
}

// Summary is the UID and size of one server message.
type Summary struct {
	UID  uint32
	Size uint32
}

// Mailbox is the subset of IMAP the session needs.
type Mailbox interface {
	Select(ctx context.Context, folder string) (uidvalidity uint32, err error)
	// ListSince returns messages with a UID greater than uid, ascending.
	ListSince(ctx context.Context, uid uint32) ([]Summary, error)
	// Fetch returns the full message, or only its header block.
	Fetch(ctx context.Context, uid uint32, headerOnly bool) ([]byte, error)
	// Delete flags the UIDs \Deleted and expunges them.
	Delete(ctx context.Context, uids []uint32) error
	Close() error
}

// Dialer opens an authenticated mailbox connection.
type Dialer func(ctx context.Context) (Mailbox, error)

// NewDialer returns a Dialer for cfg backed by go-imap.
func NewDialer(cfg Config) Dialer {
	return func(ctx context.Context) (Mailbox, error) {
		return dial(ctx, cfg)
	}
}

type imapMailbox struct {
	client *imapclient.Client
}

func dial(_ context.Context, cfg Config) (*imapMailbox, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var opts imapclient.Options
	var client *imapclient.Client
	var err error
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{ServerName: cfg.Host}
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}
	return &imapMailbox{client: client}, nil
}

func (m *imapMailbox) Select(_ context.Context, folder string) (uint32, error) {
	data, err := m.client.Select(folder, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("select %s: %w", folder, err)
	}
	return data.UIDValidity, nil
}

func (m *imapMailbox) ListSince(_ context.Context, uid uint32) ([]Summary, error) {
	uidSet := imap.UIDSet{imap.UIDRange{Start: imap.UID(uid + 1), Stop: 0}}
	fetchCmd := m.client.Fetch(uidSet, &imap.FetchOptions{UID: true, RFC822Size: true})

	var out []Summary
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		var s Summary
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				s.UID = uint32(data.UID)
			case imapclient.FetchItemDataRFC822Size:
				s.Size = uint32(data.Size)
			}
		}
		// "n:*" always matches the highest UID, even when it is below n.
		if s.UID > uid {
			out = append(out, s)
		}
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch uids: %w", err)
	}
	return out, nil
}

func (m *imapMailbox) Fetch(_ context.Context, uid uint32, headerOnly bool) ([]byte, error) {
	uidSet := imap.UIDSet{}
	uidSet.AddNum(imap.UID(uid))

	section := &imap.FetchItemBodySection{Peek: true}
	if headerOnly {
		section.Specifier = imap.PartSpecifierHeader
	}
	fetchCmd := m.client.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	var raw []byte
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		data, ok := item.(imapclient.FetchItemDataBodySection)
		if !ok || data.Literal == nil {
			continue
		}
		// The literal must be consumed before the next item.
		b, err := io.ReadAll(io.LimitReader(data.Literal, maxRawMessageSize))
		_, _ = io.Copy(io.Discard, data.Literal)
		if err != nil {
			_ = fetchCmd.Close()
			return nil, fmt.Errorf("read UID %d: %w", uid, err)
		}
		raw = b
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch UID %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body", uid)
	}
	return raw, nil
}

func (m *imapMailbox) Delete(_ context.Context, uids []uint32) error {
	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(imap.UID(uid))
	}
	storeCmd := m.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store \\Deleted: %w", err)
	}
	if err := m.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	return nil
}

func (m *imapMailbox) Close() error {
	_ = m.client.Logout().Wait()
	return m.client.Close()
}
