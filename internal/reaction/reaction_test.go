package reaction

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// mockSender records sent messages and can fail.
type mockSender struct {
	sent []*store.Message
	err  error
}

func (m *mockSender) SendMsg(_ context.Context, chatID store.ChatID, msg *store.Message) (store.MsgID, error) {
	if m.err != nil {
		return 0, m.err
	}
	msg.ChatID = chatID
	m.sent = append(m.sent, msg)
	return store.MsgID(1000 + len(m.sent)), nil
}

func setup(t *testing.T) (*store.DB, store.ChatID, store.MsgID, store.ContactID) {
	t.Helper()
	db := testDB(t)
	bob, err := db.LookupOrCreateContact("bob@example.net", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := db.CreateChat("Bob", store.ChatNotBlocked, bob)
	if err != nil {
		t.Fatal(err)
	}
	msgID, err := db.InsertMessage(&store.Message{
		RFC724MID: "target@example.org", ChatID: chatID, FromID: store.ContactSelf,
		Viewtype: store.ViewtypeText, Text: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	return db, chatID, msgID, bob
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"👍", "👍"},
		{"😀 👍 😀", "👍 😀"},
		{"\t👍\n❤\r", "❤ 👍"},
		{strings.Repeat("x", 30), ""},
		{strings.Repeat("x", 29) + " 👍", strings.Repeat("x", 29) + " 👍"},
	}
	for _, tt := range tests {
		if got := Parse(tt.raw).String(); got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseIdempotent(t *testing.T) {
	inputs := []string{"", "👍", "😀 👍 😀", "a b c a", " 🫠\t🫠 ", strings.Repeat("🎉", 10)}
	for _, in := range inputs {
		once := Parse(in)
		if twice := Parse(once.String()); twice != once {
			t.Errorf("Parse not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestAdd(t *testing.T) {
	got := Parse("👍").Add(Parse("😀 👍"))
	if got.String() != "👍 😀" {
		t.Errorf("Add = %q", got)
	}
	if !Parse("").Add(Parse("")).IsEmpty() {
		t.Error("empty union should be empty")
	}
}

func TestReactionsHistogram(t *testing.T) {
	rs := &Reactions{byContact: map[store.ContactID]Reaction{
		1:  Parse("👍"),
		10: Parse("👍 😀"),
		11: Parse("❤"),
	}}
	if got := rs.String(); got != "❤1 👍2 😀1" {
		t.Errorf("String() = %q", got)
	}
	sorted := rs.EmojiSortedByFrequency()
	if len(sorted) != 3 || sorted[0].Emoji != "👍" || sorted[0].Count != 2 {
		t.Errorf("sorted = %+v", sorted)
	}
	if ids := rs.Contacts(); len(ids) != 3 || ids[0] != 1 || ids[2] != 11 {
		t.Errorf("contacts = %v", ids)
	}
	if !rs.Get(42).IsEmpty() {
		t.Error("unknown contact should have empty reaction")
	}
}

func TestSendReactionRoundTrip(t *testing.T) {
	db, chatID, msgID, _ := setup(t)
	sender := &mockSender{}
	svc := NewService(db, bus.New(), sender, nil)
	ctx := context.Background()

	if _, err := svc.SendReaction(ctx, msgID, "👍"); err != nil {
		t.Fatal(err)
	}
	rs, err := svc.GetMsgReactions(ctx, msgID)
	if err != nil {
		t.Fatal(err)
	}
	if got := rs.Get(store.ContactSelf).String(); got != "👍" {
		t.Errorf("self reaction = %q", got)
	}
	if got := rs.String(); got != "👍1" {
		t.Errorf("String() = %q, want 👍1", got)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages", len(sender.sent))
	}
	m := sender.sent[0]
	if m.ChatID != chatID || m.InReplyTo != "target@example.org" || m.Text != "👍" || !m.Param.Exists(store.ParamReaction) {
		t.Errorf("unexpected reaction message %+v", m)
	}
}

func TestReactionReplacesNotAccumulates(t *testing.T) {
	db, chatID, msgID, bob := setup(t)
	svc := NewService(db, bus.New(), &mockSender{}, nil)
	ctx := context.Background()

	if err := svc.SetReaction(ctx, chatID, msgID, bob, Parse("👍")); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetReaction(ctx, chatID, msgID, bob, Parse("😀")); err != nil {
		t.Fatal(err)
	}
	rs, _ := svc.GetMsgReactions(ctx, msgID)
	if got := rs.Get(bob).String(); got != "😀" {
		t.Errorf("reaction = %q, want 😀", got)
	}

	if err := svc.SetReaction(ctx, chatID, msgID, bob, Parse("")); err != nil {
		t.Fatal(err)
	}
	rs, _ = svc.GetMsgReactions(ctx, msgID)
	if len(rs.Contacts()) != 0 {
		t.Errorf("contacts after retraction = %v", rs.Contacts())
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM reactions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("reaction rows = %d, want 0", n)
	}
}

func TestAddReaction(t *testing.T) {
	db, _, msgID, _ := setup(t)
	sender := &mockSender{}
	svc := NewService(db, bus.New(), sender, nil)
	ctx := context.Background()

	if _, err := svc.SendReaction(ctx, msgID, "👍"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddReaction(ctx, msgID, "😀"); err != nil {
		t.Fatal(err)
	}
	self, err := svc.GetSelfReaction(ctx, msgID)
	if err != nil {
		t.Fatal(err)
	}
	if self.String() != "👍 😀" {
		t.Errorf("self = %q", self)
	}
	if last := sender.sent[len(sender.sent)-1]; last.Text != "👍 😀" {
		t.Errorf("sent %q, want the union", last.Text)
	}
}

func TestSendFailureKeepsLocalReaction(t *testing.T) {
	db, _, msgID, _ := setup(t)
	svc := NewService(db, bus.New(), &mockSender{err: errors.New("smtp down")}, nil)
	ctx := context.Background()

	if _, err := svc.SendReaction(ctx, msgID, "👍"); err == nil {
		t.Fatal("expected send error")
	}
	self, _ := svc.GetSelfReaction(ctx, msgID)
	if self.String() != "👍" {
		t.Errorf("local reaction rolled back: %q", self)
	}
}

func TestReceiveReaction(t *testing.T) {
	db, chatID, msgID, bob := setup(t)
	b := bus.New()
	svc := NewService(db, b, &mockSender{}, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(bus.KindIncomingReaction, 10)
	defer unsub()

	if err := svc.ReceiveReaction(ctx, "target@example.org", bob, "❤"); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		p := evt.Payload.(bus.ReactionEvent)
		if p.ChatID != int64(chatID) || p.MsgID != int64(msgID) || p.ContactID != int64(bob) || p.Reaction != "❤" {
			t.Errorf("payload %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for incoming reaction")
	}

	// Unknown parents are ignored without error.
	if err := svc.ReceiveReaction(ctx, "unknown@example.org", bob, "👍"); err != nil {
		t.Errorf("unknown parent: %v", err)
	}
}

func TestReactionsChangedEvent(t *testing.T) {
	db, chatID, msgID, bob := setup(t)
	b := bus.New()
	svc := NewService(db, b, &mockSender{}, nil)

	ch, unsub := b.Subscribe(bus.KindReactionsChanged, 10)
	defer unsub()

	if err := svc.SetReaction(context.Background(), chatID, msgID, bob, Parse("")); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		if p := evt.Payload.(bus.ReactionEvent); p.ContactID != int64(bob) {
			t.Errorf("payload %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("retraction must emit reactions changed")
	}
}
