package ephemeral

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
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

// mockSender inserts sent messages like the outbox does, without transport.
type mockSender struct {
	mu   sync.Mutex
	db   *store.DB
	now  int64
	sent []*store.Message
}

func (m *mockSender) SendMsg(_ context.Context, chatID store.ChatID, msg *store.Message) (store.MsgID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ChatID = chatID
	msg.FromID = store.ContactSelf
	msg.RFC724MID = fmt.Sprintf("sent%d@example.org", len(m.sent))
	msg.Timestamp = m.now
	msg.TimestampSent = m.now
	msg.State = store.StateOutPending
	if _, err := m.db.InsertMessage(msg); err != nil {
		return 0, err
	}
	m.sent = append(m.sent, msg)
	return msg.ID, nil
}

type mockInterrupter struct{ n int }

func (m *mockInterrupter) InterruptInbox() { m.n++ }

func newChat(t *testing.T, db *store.DB) store.ChatID {
	t.Helper()
	bob, err := db.LookupOrCreateContact("bob@example.net", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	id, err := db.CreateChat("Bob", store.ChatNotBlocked, bob)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func insertMsg(t *testing.T, db *store.DB, m *store.Message) store.MsgID {
	t.Helper()
	if m.FromID == 0 {
		m.FromID = store.ContactSelf
	}
	if m.Viewtype == 0 {
		m.Viewtype = store.ViewtypeText
	}
	id, err := db.InsertMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestTimerString(t *testing.T) {
	tests := []struct {
		timer Timer
		want  string
	}{
		{Disabled, "disabled"},
		{Enabled(30), "30 s"},
		{Enabled(60), "1 minute"},
		{Enabled(300), "5 minutes"},
		{Enabled(3600), "1 hour"},
		{Enabled(86400), "1 day"},
		{Enabled(2 * 604800), "2 weeks"},
		{Enabled(90), "90 s"},
	}
	for _, tt := range tests {
		if got := tt.timer.String(); got != tt.want {
			t.Errorf("%d: String() = %q, want %q", tt.timer.Duration, got, tt.want)
		}
	}
}

func TestParseHeader(t *testing.T) {
	timer, err := ParseHeader(" 60 ")
	if err != nil {
		t.Fatal(err)
	}
	if timer != Enabled(60) {
		t.Errorf("got %v", timer)
	}
	if timer, _ := ParseHeader("0"); timer.IsEnabled() {
		t.Error("0 must decode as disabled")
	}
	if _, err := ParseHeader("-1"); err == nil {
		t.Error("expected error for negative value")
	}
}

func TestStamp(t *testing.T) {
	if got := Disabled.Stamp(1000); got != 0 {
		t.Errorf("disabled stamp = %d, want 0", got)
	}
	if got := Enabled(60).Stamp(1000); got != 1060 {
		t.Errorf("stamp = %d, want 1060", got)
	}
}

func TestDeleteExpiredMessagesBoundary(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	svc := NewService(db, b, nil, Retention{}, zap.NewNop())
	chatID := newChat(t, db)

	const sent, duration = int64(1_000_000), int64(3600)
	// The deadline may have been lent from the future.
	deadline := sent + duration + MaxSecondsToLendFromFuture
	id := insertMsg(t, db, &store.Message{
		RFC724MID: "eph@example.org", ChatID: chatID, Timestamp: sent, TimestampSent: sent,
		Text: "secret", EphemeralTimer: uint32(duration), EphemeralTimestamp: deadline,
	})

	ch, unsub := b.Subscribe(bus.KindMsgDeleted, 10)
	defer unsub()

	if _, err := svc.DeleteExpiredMessages(context.Background(), sent+duration-1); err != nil {
		t.Fatal(err)
	}
	m, err := db.LoadMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "secret" {
		t.Fatalf("message deleted too early, text = %q", m.Text)
	}

	n, err := svc.DeleteExpiredMessages(context.Background(), deadline+1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	m, err = db.LoadMessage(id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "" || m.ChatID != store.ChatTrash || m.FromID != 0 {
		t.Errorf("message not scrubbed: %+v", m)
	}
	if m.RFC724MID != "eph@example.org" {
		t.Errorf("tombstone lost its Message-ID: %q", m.RFC724MID)
	}

	select {
	case evt := <-ch:
		p := evt.Payload.(bus.MsgEvent)
		if p.MsgID != int64(id) || p.ChatID != int64(chatID) {
			t.Errorf("unexpected payload %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for msg.deleted")
	}

	// A second sweep is a no-op and emits nothing more.
	if n, _ := svc.DeleteExpiredMessages(context.Background(), deadline+10); n != 0 {
		t.Errorf("second sweep deleted %d", n)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected second event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeleteExpiredCascadesLocation(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	chatID := newChat(t, db)

	locID, err := db.InsertLocation(&store.Location{Latitude: 1, Longitude: 2, ChatID: chatID, Independent: true})
	if err != nil {
		t.Fatal(err)
	}
	insertMsg(t, db, &store.Message{
		RFC724MID: "poi@example.org", ChatID: chatID, Text: "here",
		EphemeralTimestamp: 100, LocationID: locID,
	})
	if _, err := svc.DeleteExpiredMessages(context.Background(), 200); err != nil {
		t.Fatal(err)
	}
	n, err := db.LocationCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("location count = %d, want 0", n)
	}
}

func TestDeleteDeviceAfter(t *testing.T) {
	db := testDB(t)
	dda := int64(86400)
	svc := NewService(db, bus.New(), nil, Retention{DeleteDeviceAfter: &dda}, nil)
	chatID := newChat(t, db)

	now := int64(10_000_000)
	old := insertMsg(t, db, &store.Message{RFC724MID: "old@x", ChatID: chatID, Timestamp: now - dda - 1, Text: "old"})
	fresh := insertMsg(t, db, &store.Message{RFC724MID: "new@x", ChatID: chatID, Timestamp: now - 10, Text: "new"})

	if _, err := svc.DeleteExpiredMessages(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	if m, _ := db.LoadMessage(old); m.ChatID != store.ChatTrash {
		t.Error("old message kept despite device retention")
	}
	if m, _ := db.LoadMessage(fresh); m.ChatID != chatID {
		t.Error("fresh message deleted")
	}
}

func TestNextExpirationTimestamp(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	ctx := context.Background()
	chatID := newChat(t, db)

	if _, ok, err := svc.NextExpirationTimestamp(ctx); err != nil || ok {
		t.Fatalf("expected nothing scheduled, ok=%v err=%v", ok, err)
	}

	insertMsg(t, db, &store.Message{RFC724MID: "a@x", ChatID: chatID, EphemeralTimestamp: 500})
	insertMsg(t, db, &store.Message{RFC724MID: "b@x", ChatID: chatID, EphemeralTimestamp: 300})
	insertMsg(t, db, &store.Message{RFC724MID: "c@x", ChatID: chatID})

	ts, ok, err := svc.NextExpirationTimestamp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || ts != 300 {
		t.Errorf("next = %d %v, want 300 true", ts, ok)
	}

	if _, err := svc.DeleteExpiredMessages(ctx, 1000); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := svc.NextExpirationTimestamp(ctx); ok {
		t.Error("tombstones must not be scheduled")
	}
}

func TestDeleteExpiredIMAPMessages(t *testing.T) {
	const now = int64(10_000_000)
	tests := []struct {
		name          string
		dsa           *int64
		timestamp     int64
		ephemeral     int64
		downloadState int
		wantMarked    bool
	}{
		{"expired and downloaded", nil, now - 100, now - 1, 0, true},
		{"not yet expired", nil, now - 100, now + 100, 0, false},
		{"expired but undownloaded and recent", nil, now - 100, now - 1, downloadAvailable, false},
		{"expired undownloaded older than floor", nil, now - MinDeleteServerAfter - 1, now - 1, downloadAvailable, true},
		{"short server retention wins over floor", ptr(int64(60)), now - 100, now - 1, downloadAvailable, true},
		{"delete server immediately", ptr(int64(0)), now, 0, 0, true},
		{"server retention not reached", ptr(int64(3600)), now - 100, 0, 0, false},
		{"no ephemeral no retention", nil, 1, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			svc := NewService(db, bus.New(), nil, Retention{DeleteServerAfter: tt.dsa}, nil)
			chatID := newChat(t, db)
			insertMsg(t, db, &store.Message{
				RFC724MID: "m@x", ChatID: chatID, Timestamp: tt.timestamp,
				EphemeralTimestamp: tt.ephemeral, DownloadState: tt.downloadState,
			})
			if err := db.UpsertIMAPRecord("m@x", "INBOX", "INBOX", 7, 1); err != nil {
				t.Fatal(err)
			}
			if _, err := svc.DeleteExpiredIMAPMessages(context.Background(), now); err != nil {
				t.Fatal(err)
			}
			uids, err := db.IMAPMarkedForDeletion("INBOX", 1)
			if err != nil {
				t.Fatal(err)
			}
			if marked := len(uids) == 1; marked != tt.wantMarked {
				t.Errorf("marked = %v, want %v", marked, tt.wantMarked)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestShouldApply(t *testing.T) {
	tests := []struct {
		name string
		in   Incoming
		last LastChange
		want bool
	}{
		{"no previous change", Incoming{Timer: Enabled(60)}, LastChange{Kind: NoChange}, true},
		{"reaction never applies", Incoming{IsReaction: true}, LastChange{Kind: NoChange}, false},
		{"refers to present change", Incoming{References: []string{"c@x"}, TimestampSent: 1}, LastChange{Kind: Present, MID: "c@x", Timestamp: 100}, true},
		{"refers to deleted change", Incoming{References: []string{"c@x"}, TimestampSent: 200}, LastChange{Kind: Absent, MID: "c@x", Timestamp: 100}, false},
		{"in-reply-to counts as reference", Incoming{InReplyTo: "c@x"}, LastChange{Kind: Present, MID: "c@x"}, true},
		{"explicit change after deleted change", Incoming{References: []string{"c@x"}, TimestampSent: 200, Explicit: true}, LastChange{Kind: Absent, MID: "c@x", Timestamp: 100}, true},
		{"explicit change older than deleted change", Incoming{References: []string{"c@x"}, TimestampSent: 50, Explicit: true}, LastChange{Kind: Absent, MID: "c@x", Timestamp: 100}, false},
		{"change deeper in thread is not the parent", Incoming{References: []string{"c@x", "d@x"}, TimestampSent: 200}, LastChange{Kind: Absent, MID: "c@x", Timestamp: 100}, true},
		{"unrelated newer message", Incoming{TimestampSent: 200}, LastChange{Kind: Present, MID: "c@x", Timestamp: 100}, true},
		{"unrelated older message", Incoming{TimestampSent: 50}, LastChange{Kind: Present, MID: "c@x", Timestamp: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldApply(tt.in, tt.last); got != tt.want {
				t.Errorf("ShouldApply = %v, want %v", got, tt.want)
			}
		})
	}
}

// M1 without timer, M2 enabling 60 s then trashed, M3 referencing both
// without a timer: the chat timer stays at 60 s.
func TestRollbackProtectionScenario(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	ctx := context.Background()
	chatID := newChat(t, db)
	bob, _ := db.LookupOrCreateContact("bob@example.net", "")

	insertMsg(t, db, &store.Message{RFC724MID: "m1@example.net", ChatID: chatID, FromID: bob, Timestamp: 1000, TimestampSent: 1000, Text: "hi"})
	if changed, err := svc.ApplyReceived(ctx, chatID, Incoming{MessageID: "m1@example.net", TimestampSent: 1000}); err != nil || changed {
		t.Fatalf("M1 changed=%v err=%v", changed, err)
	}

	m2 := insertMsg(t, db, &store.Message{RFC724MID: "m2@example.net", ChatID: chatID, FromID: bob, Timestamp: 1010, TimestampSent: 1010, Text: "timer", EphemeralTimer: 60})
	changed, err := svc.ApplyReceived(ctx, chatID, Incoming{
		MessageID: "m2@example.net", Timer: Enabled(60), TimestampSent: 1010,
		InReplyTo: "m1@example.net", References: []string{"m1@example.net"},
	})
	if err != nil || !changed {
		t.Fatalf("M2 changed=%v err=%v", changed, err)
	}
	if timer, _ := svc.GetChatTimer(ctx, chatID); timer != Enabled(60) {
		t.Fatalf("timer after M2 = %v", timer)
	}

	if err := db.TrashMessage(m2); err != nil {
		t.Fatal(err)
	}

	changed, err = svc.ApplyReceived(ctx, chatID, Incoming{
		MessageID: "m3@example.net", Timer: Disabled, TimestampSent: 1020,
		InReplyTo: "m1@example.net", References: []string{"m1@example.net", "m2@example.net"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("M3 must not change the timer")
	}
	if timer, _ := svc.GetChatTimer(ctx, chatID); timer != Enabled(60) {
		t.Errorf("timer after M3 = %v, want 1 minute", timer)
	}
}

// A timer change message expires like any other. Once it is swept, an
// explicit change replying to it must still go through.
func TestExplicitChangeAfterChangeExpired(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	ctx := context.Background()
	chatID := newChat(t, db)
	bob, _ := db.LookupOrCreateContact("bob@example.net", "")

	insertMsg(t, db, &store.Message{RFC724MID: "m0@example.net", ChatID: chatID, FromID: bob, Timestamp: 990, TimestampSent: 990, Text: "hi"})
	insertMsg(t, db, &store.Message{RFC724MID: "c@example.net", ChatID: chatID, FromID: bob, Timestamp: 1000, TimestampSent: 1000,
		InfoType: store.InfoEphemeralTimerChanged, EphemeralTimer: 60, EphemeralTimestamp: 1060})
	changed, err := svc.ApplyReceived(ctx, chatID, Incoming{
		MessageID: "c@example.net", Timer: Enabled(60), TimestampSent: 1000, Explicit: true,
		InReplyTo: "m0@example.net", References: []string{"m0@example.net"},
	})
	if err != nil || !changed {
		t.Fatalf("enable changed=%v err=%v", changed, err)
	}

	if _, err := svc.DeleteExpiredMessages(ctx, 1061); err != nil {
		t.Fatal(err)
	}
	if last, _ := svc.LastChange(ctx, chatID); last.Kind != Absent {
		t.Fatalf("last change = %+v, want absent after sweep", last)
	}

	changed, err = svc.ApplyReceived(ctx, chatID, Incoming{
		MessageID: "d@example.net", Timer: Disabled, TimestampSent: 2000, Explicit: true,
		InReplyTo: "c@example.net", References: []string{"m0@example.net", "c@example.net"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if timer, _ := svc.GetChatTimer(ctx, chatID); !changed || timer != Disabled {
		t.Errorf("explicit disable ignored: changed=%v timer=%v", changed, timer)
	}
}

func TestApplyReceivedOutOfOrder(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	ctx := context.Background()
	chatID := newChat(t, db)

	insertMsg(t, db, &store.Message{RFC724MID: "on@x", ChatID: chatID, TimestampSent: 2000})
	if _, err := svc.ApplyReceived(ctx, chatID, Incoming{MessageID: "on@x", Timer: Enabled(300), TimestampSent: 2000, Explicit: true}); err != nil {
		t.Fatal(err)
	}
	// An older headerless message arriving late must not disable the timer.
	changed, err := svc.ApplyReceived(ctx, chatID, Incoming{MessageID: "late@x", Timer: Disabled, TimestampSent: 1990})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("late message rolled back the timer")
	}
	// A newer one in reply to the change disables it.
	changed, err = svc.ApplyReceived(ctx, chatID, Incoming{MessageID: "off@x", Timer: Disabled, TimestampSent: 2010, InReplyTo: "on@x"})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("reply to the change should apply")
	}
}

func TestApplyReceivedAddsInfoMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	svc := NewService(db, b, nil, Retention{}, nil)
	ctx := context.Background()
	chatID := newChat(t, db)

	ch, unsub := b.Subscribe(bus.KindChatEphemeralTimerModified, 10)
	defer unsub()

	if _, err := svc.ApplyReceived(ctx, chatID, Incoming{MessageID: "x@x", Timer: Enabled(3600), TimestampSent: 10}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages(chatID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].InfoType != store.InfoEphemeralTimerChanged || msgs[0].Text != "Message deletion timer is set to 1 hour." {
		t.Errorf("unexpected messages %+v", msgs)
	}
	select {
	case evt := <-ch:
		if evt.Payload.(bus.TimerEvent).Timer != 3600 {
			t.Errorf("payload %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for timer event")
	}
}

func TestSetChatTimer(t *testing.T) {
	db := testDB(t)
	sender := &mockSender{db: db, now: 5000}
	svc := NewService(db, bus.New(), sender, Retention{}, nil)
	ctx := context.Background()
	chatID := newChat(t, db)

	if err := svc.SetChatTimer(ctx, chatID, Enabled(60)); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if sender.sent[0].InfoType != store.InfoEphemeralTimerChanged {
		t.Errorf("info type = %v", sender.sent[0].InfoType)
	}
	chat, _ := db.GetChat(chatID)
	if chat.EphemeralTimer != 60 || chat.EphemeralChangeMID != sender.sent[0].RFC724MID || chat.EphemeralChangeTS != 5000 {
		t.Errorf("chat = %+v", chat)
	}

	// Same value again sends nothing.
	if err := svc.SetChatTimer(ctx, chatID, Enabled(60)); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("unchanged timer was resent")
	}

	if err := svc.SetChatTimer(ctx, store.ChatTrash, Enabled(60)); err == nil {
		t.Error("expected error for special chat")
	}
}

func TestLoopSweepInterruptsIMAP(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	imap := &mockInterrupter{}
	loop := NewLoop(svc, imap, nil)
	loop.now = func() time.Time { return time.Unix(10_000, 0) }
	chatID := newChat(t, db)

	insertMsg(t, db, &store.Message{RFC724MID: "e@x", ChatID: chatID, Timestamp: 9000, EphemeralTimestamp: 9500})
	if err := db.UpsertIMAPRecord("e@x", "INBOX", "INBOX", 1, 1); err != nil {
		t.Fatal(err)
	}
	loop.Sweep(context.Background())
	if imap.n != 1 {
		t.Errorf("interrupts = %d, want 1", imap.n)
	}
	loop.Sweep(context.Background())
	if imap.n != 1 {
		t.Errorf("second sweep interrupted again")
	}
}

func TestLoopNextWait(t *testing.T) {
	db := testDB(t)
	svc := NewService(db, bus.New(), nil, Retention{}, nil)
	loop := NewLoop(svc, nil, nil)
	loop.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	if got := loop.nextWait(ctx); got != housekeepingInterval {
		t.Errorf("idle wait = %v", got)
	}
	chatID := newChat(t, db)
	insertMsg(t, db, &store.Message{RFC724MID: "w@x", ChatID: chatID, EphemeralTimestamp: 1010})
	if got := loop.nextWait(ctx); got != 11*time.Second {
		t.Errorf("wait = %v, want 11s", got)
	}
}

func TestLoopStartStop(t *testing.T) {
	db := testDB(t)
	loop := NewLoop(NewService(db, bus.New(), nil, Retention{}, nil), nil, nil)
	loop.Start(context.Background())
	loop.Interrupt()
	loop.Interrupt()
	loop.Stop()
}
