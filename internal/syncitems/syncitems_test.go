package syncitems

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

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

type mockSelfSender struct {
	sent []*store.Message
	err  error
}

func (m *mockSelfSender) SendSelf(_ context.Context, msg *store.Message) (store.MsgID, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.sent = append(m.sent, msg)
	return store.MsgID(len(m.sent)), nil
}

func TestFlushRoundTrip(t *testing.T) {
	db := testDB(t)
	sender := &mockSelfSender{}
	c := NewChannel(db, sender, nil)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	ctx := context.Background()

	if err := c.Add(ctx, RejectIncomingCall{Msg: "call1@example.org"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(ctx, RejectIncomingCall{Msg: "call2@example.org"}); err != nil {
		t.Fatal(err)
	}
	id, err := c.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 || len(sender.sent) != 1 {
		t.Fatalf("flush sent %d messages, id %d", len(sender.sent), id)
	}
	msg := sender.sent[0]
	if !msg.Hidden || msg.InfoType != store.InfoMultiDeviceSync || !msg.Param.Exists(store.ParamSyncItems) {
		t.Errorf("unexpected sync message %+v", msg)
	}

	items, err := Decode(msg.Text)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("decoded %d items", len(items))
	}
	d, ok := items[1].Data.(RejectIncomingCall)
	if !ok || d.Msg != "call2@example.org" {
		t.Errorf("item data = %#v", items[1].Data)
	}
	if items[0].Timestamp != 1700000000 || items[0].ID == "" {
		t.Errorf("item = %+v", items[0])
	}

	// The queue is empty now.
	if id, err := c.Flush(ctx); err != nil || id != 0 {
		t.Errorf("second flush id=%d err=%v", id, err)
	}
}

func TestFlushFailureKeepsItems(t *testing.T) {
	db := testDB(t)
	sender := &mockSelfSender{err: errors.New("offline")}
	c := NewChannel(db, sender, nil)
	ctx := context.Background()

	if err := c.Add(ctx, RejectIncomingCall{Msg: "c@x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Flush(ctx); err == nil {
		t.Fatal("expected error")
	}
	sender.err = nil
	if _, err := c.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("item lost after failed flush")
	}
}

func TestDecodeSkipsUnknownKinds(t *testing.T) {
	body := `{"items":[
		{"id":"a","timestamp":1,"data":{"AddQrToken":{"token":"x"}}},
		{"id":"b","timestamp":2,"data":{"RejectIncomingCall":{"msg":"m@x"}}}
	]}`
	items, err := Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "b" {
		t.Errorf("items = %+v", items)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode("not json"); err == nil {
		t.Error("expected error")
	}
}
