package imapsession

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/download"
	"github.com/matheus3301/chatmail/internal/status"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
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

// fakeMailbox is an in-memory folder.
type fakeMailbox struct {
	mu          sync.Mutex
	uidvalidity uint32
	msgs        map[uint32][]byte
	fetches     []fetchCall
	deleted     []uint32
	selectErr   error
	closed      bool
}

type fetchCall struct {
	UID        uint32
	HeaderOnly bool
}

func (f *fakeMailbox) Select(context.Context, string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uidvalidity, f.selectErr
}

func (f *fakeMailbox) ListSince(_ context.Context, uid uint32) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Summary
	for u, raw := range f.msgs {
		if u > uid {
			out = append(out, Summary{UID: u, Size: uint32(len(raw))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (f *fakeMailbox) Fetch(_ context.Context, uid uint32, headerOnly bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, fetchCall{UID: uid, HeaderOnly: headerOnly})
	raw, ok := f.msgs[uid]
	if !ok {
		return nil, fmt.Errorf("no uid %d", uid)
	}
	if headerOnly {
		return raw[:10], nil
	}
	return raw, nil
}

func (f *fakeMailbox) Delete(_ context.Context, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range uids {
		delete(f.msgs, u)
	}
	f.deleted = append(f.deleted, uids...)
	return nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

type recorder struct {
	mu   sync.Mutex
	msgs []*bus.IMAPMessage
	err  error
}

func (r *recorder) Receive(_ context.Context, msg *bus.IMAPMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func newSession(t *testing.T, db *store.DB, mb *fakeMailbox, recv Receiver, limit uint32) *Session {
	t.Helper()
	dial := func(context.Context) (Mailbox, error) { return mb, nil }
	return New(dial, Options{Folder: "INBOX", DownloadLimit: limit}, db, bus.New(), recv, nil, nil, nil)
}

func TestFetchNewOnlyOnce(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 7, msgs: map[uint32][]byte{1: []byte("first message"), 2: []byte("second message")}}
	rec := &recorder{}
	s := newSession(t, db, mb, rec, 0)

	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.msgs) != 2 {
		t.Fatalf("received %d, want 2", len(rec.msgs))
	}
	if rec.msgs[0].UID != 1 || rec.msgs[0].UIDValidity != 7 || rec.msgs[0].Partial {
		t.Errorf("first = %+v", rec.msgs[0])
	}

	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.msgs) != 2 {
		t.Errorf("refetched: got %d receives", len(rec.msgs))
	}
	if s.Status().Current() != status.Idle {
		t.Errorf("status = %s, want IDLE", s.Status().Current())
	}
}

func TestFetchNewPartialOverLimit(t *testing.T) {
	db := testDB(t)
	big := make([]byte, download.MinDownloadLimit+1)
	mb := &fakeMailbox{uidvalidity: 1, msgs: map[uint32][]byte{1: big, 2: []byte("small message")}}
	rec := &recorder{}
	s := newSession(t, db, mb, rec, 1) // raised to the minimum limit

	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !rec.msgs[0].Partial || rec.msgs[1].Partial {
		t.Errorf("partial flags = %v %v", rec.msgs[0].Partial, rec.msgs[1].Partial)
	}
	if !mb.fetches[0].HeaderOnly {
		t.Error("large message fetched in full")
	}
}

func TestUIDValidityChangeRefetches(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 1, msgs: map[uint32][]byte{1: []byte("message one")}}
	rec := &recorder{}
	s := newSession(t, db, mb, rec, 0)

	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	mb.uidvalidity = 2
	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.msgs) != 2 {
		t.Errorf("received %d, want 2 after uidvalidity reset", len(rec.msgs))
	}
}

func TestReceiveErrorDoesNotBlock(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 1, msgs: map[uint32][]byte{1: []byte("garbage!!!!")}}
	rec := &recorder{err: errors.New("parse")}
	s := newSession(t, db, mb, rec, 0)

	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	last, _ := db.GetConfigUint32(configLastUID)
	if last != 1 {
		t.Errorf("last uid = %d, want 1", last)
	}
}

func TestFetchSingleMsg(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 3, msgs: map[uint32][]byte{5: []byte("full body here")}}
	rec := &recorder{}
	s := newSession(t, db, mb, rec, 0)

	if err := s.FetchSingleMsg(context.Background(), "INBOX", 3, 5, "m@x"); err != nil {
		t.Fatal(err)
	}
	if len(rec.msgs) != 1 || rec.msgs[0].Partial || string(rec.msgs[0].Raw) != "full body here" {
		t.Errorf("received = %+v", rec.msgs)
	}

	err := s.FetchSingleMsg(context.Background(), "INBOX", 4, 5, "m@x")
	if !errors.Is(err, ErrUIDValidityChanged) {
		t.Errorf("err = %v, want ErrUIDValidityChanged", err)
	}
}

func TestConnectOutsideFetchNewEndsIdle(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 3, msgs: map[uint32][]byte{5: []byte("full body here")}}
	core, logs := observer.New(zapcore.WarnLevel)
	dial := func(context.Context) (Mailbox, error) { return mb, nil }
	s := New(dial, Options{Folder: "INBOX"}, db, bus.New(), &recorder{}, nil, nil, zap.New(core))

	if err := s.FetchSingleMsg(context.Background(), "INBOX", 3, 5, "m@x"); err != nil {
		t.Fatal(err)
	}
	if got := s.Status().Current(); got != status.Idle {
		t.Errorf("status after single fetch = %s, want IDLE", got)
	}
	if err := s.FetchNew(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.Status().Current(); got != status.Idle {
		t.Errorf("status after fetch = %s, want IDLE", got)
	}
	if n := logs.FilterMessage("connectivity not updated").Len(); n != 0 {
		t.Errorf("%d rejected transitions: %v", n, logs.All())
	}
}

func TestDeleteMarked(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 9, msgs: map[uint32][]byte{1: []byte("a"), 2: []byte("b")}}
	s := newSession(t, db, mb, &recorder{}, 0)

	if err := db.UpsertIMAPRecord("a@x", "INBOX", "", 1, 9); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertIMAPRecord("b@x", "INBOX", "INBOX", 2, 9); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteMarked(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(mb.deleted) != 1 || mb.deleted[0] != 1 {
		t.Errorf("deleted = %v (n=%d)", mb.deleted, n)
	}
	loc, err := db.IMAPLocationByRFC724MID("a@x")
	if err != nil {
		t.Fatal(err)
	}
	if loc != nil {
		t.Errorf("imap row still present: %+v", loc)
	}
}

func TestDialFailureIsNotConnected(t *testing.T) {
	db := testDB(t)
	dial := func(context.Context) (Mailbox, error) { return nil, errors.New("refused") }
	s := New(dial, Options{}, db, bus.New(), &recorder{}, nil, nil, nil)

	if err := s.FetchNew(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s.Status().Current() != status.NotConnected {
		t.Errorf("status = %s", s.Status().Current())
	}
}

func TestInterruptWakesLoop(t *testing.T) {
	db := testDB(t)
	mb := &fakeMailbox{uidvalidity: 1, msgs: map[uint32][]byte{}}
	rec := &recorder{}
	dial := func(context.Context) (Mailbox, error) { return mb, nil }
	b := bus.New()
	s := New(dial, Options{PollInterval: time.Hour}, db, b, rec, nil, nil, nil)

	ch, unsub := b.Subscribe(bus.KindIMAPMessage, 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	mb.mu.Lock()
	mb.msgs[1] = []byte("new mail arrived")
	mb.mu.Unlock()
	s.InterruptInbox()

	select {
	case evt := <-ch:
		p := evt.Payload.(bus.IMAPMessage)
		if p.UID != 1 || p.Raw != nil {
			t.Errorf("event = %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for imap.message event")
	}
}
