package calls

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatmail/internal/bus"
	"github.com/matheus3301/chatmail/internal/ephemeral"
	"github.com/matheus3301/chatmail/internal/outbox"
	"github.com/matheus3301/chatmail/internal/reaction"
	"github.com/matheus3301/chatmail/internal/receive"
	"github.com/matheus3301/chatmail/internal/store"
	"github.com/matheus3301/chatmail/internal/syncitems"
)

// network keeps one append-only mailbox per address. Every device of an
// address reads the same mailbox with its own cursor.
type network struct {
	mu    sync.Mutex
	boxes map[string][][]byte
}

func newNetwork() *network {
	return &network{boxes: map[string][][]byte{}}
}

func (n *network) Send(_ context.Context, _ string, recipients []string, msg []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, rcpt := range recipients {
		n.boxes[rcpt] = append(n.boxes[rcpt], msg)
	}
	return nil
}

func (n *network) since(addr string, seen int) [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.boxes[addr][seen:]
}

func (n *network) count(addr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.boxes[addr])
}

type nopInterrupter struct{}

func (nopInterrupter) InterruptInbox() {}
func (nopInterrupter) Interrupt()      {}

// device is one installation of an account with its own database.
type device struct {
	addr    string
	db      *store.DB
	bus     *bus.Bus
	sender  *outbox.Sender
	mgr     *Manager
	engine  *receive.Engine
	events  <-chan bus.Event
	release chan struct{}
	seen    int
	uid     uint32
}

// newDevice returns a device whose ring watchers block until release is
// closed.
func newDevice(t *testing.T, net *network, addr string) *device {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSelfAddr(addr); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	sender := outbox.NewSender(db, net, b, outbox.Identity{Addr: addr, Domain: "example.org", BccSelf: true}, nil)
	mgr := NewManager(db, b, sender, syncitems.NewChannel(db, sender, nil), nopInterrupter{}, nil)
	d := &device{addr: addr, db: db, bus: b, sender: sender, mgr: mgr, release: make(chan struct{})}
	mgr.sleep = func(time.Duration) { <-d.release }

	timers := ephemeral.NewService(db, b, sender, ephemeral.Retention{}, nil)
	reactions := reaction.NewService(db, b, sender, nil)
	d.engine = receive.NewEngine(db, b, reactions, mgr, timers, nopInterrupter{}, nil)

	events, unsub := b.Subscribe("call.", 32)
	t.Cleanup(unsub)
	d.events = events
	return d
}

// deliver flushes every outbox, then lets each device fetch what is new in
// its mailbox.
func deliver(t *testing.T, net *network, devices ...*device) {
	t.Helper()
	ctx := context.Background()
	for _, d := range devices {
		d.sender.ProcessPending(ctx)
	}
	for _, d := range devices {
		for _, raw := range net.since(d.addr, d.seen) {
			d.seen++
			d.uid++
			if err := d.engine.Receive(ctx, &bus.IMAPMessage{
				Folder: "INBOX", UID: d.uid, UIDValidity: 1, Size: uint32(len(raw)), Raw: raw,
			}); err != nil {
				t.Fatalf("%s: %v", d.addr, err)
			}
		}
	}
}

// waitFor skips call events of other kinds until one of kind arrives.
func waitFor(t *testing.T, d *device, kind string) bus.CallEvent {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case evt := <-d.events:
			if evt.Kind == kind {
				return evt.Payload.(bus.CallEvent)
			}
		case <-timeout:
			t.Fatalf("%s: timeout waiting for %s", d.addr, kind)
		}
	}
}

// assertNo fails if an event of kind is pending or arrives shortly.
func assertNo(t *testing.T, d *device, kind string) {
	t.Helper()
	timeout := time.After(50 * time.Millisecond)
	for {
		select {
		case evt := <-d.events:
			if evt.Kind == kind {
				t.Fatalf("%s: unexpected %s %+v", d.addr, kind, evt.Payload)
			}
		case <-timeout:
			return
		}
	}
}

func chatWith(t *testing.T, d *device, peer string) store.ChatID {
	t.Helper()
	contact, err := d.db.LookupOrCreateContact(peer, "")
	if err != nil {
		t.Fatal(err)
	}
	chatID, err := d.db.CreateChat(peer, store.ChatNotBlocked, contact)
	if err != nil {
		t.Fatal(err)
	}
	return chatID
}

func TestCallEndedOnAllDevices(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	alice1 := newDevice(t, net, "alice@example.org")
	alice2 := newDevice(t, net, "alice@example.org")
	bob1 := newDevice(t, net, "bob@example.net")
	bob2 := newDevice(t, net, "bob@example.net")
	all := []*device{alice1, alice2, bob1, bob2}

	callID, err := alice1.mgr.PlaceOutgoingCall(ctx, chatWith(t, alice1, bob1.addr), "offer-sdp")
	if err != nil {
		t.Fatal(err)
	}
	deliver(t, net, all...)

	ring := waitFor(t, bob1, bus.KindIncomingCall)
	if ring.Info != "offer-sdp" {
		t.Errorf("incoming call info = %q, want offer-sdp", ring.Info)
	}
	waitFor(t, bob2, bus.KindIncomingCall)
	bobCall := store.MsgID(ring.MsgID)

	if err := bob1.mgr.AcceptIncomingCall(ctx, bobCall, "answer-sdp"); err != nil {
		t.Fatal(err)
	}
	deliver(t, net, all...)

	acc := waitFor(t, alice1, bus.KindOutgoingCallAccepted)
	if store.MsgID(acc.MsgID) != callID || acc.Info != "answer-sdp" {
		t.Errorf("accepted event = %+v", acc)
	}
	waitFor(t, alice2, bus.KindOutgoingCallAccepted)
	// bob2 stops ringing because bob1 picked up.
	waitFor(t, bob2, bus.KindIncomingCallAccepted)

	if err := alice1.mgr.EndCall(ctx, callID); err != nil {
		t.Fatal(err)
	}
	deliver(t, net, all...)

	for _, d := range all {
		waitFor(t, d, bus.KindCallEnded)
	}
	info, err := bob1.mgr.LoadCall(ctx, bobCall)
	if err != nil {
		t.Fatal(err)
	}
	if !info.Incoming || !info.Accepted || !info.Ended {
		t.Errorf("bob call = %+v", info)
	}
}

// Declining an unaccepted call only tells our own devices. The caller
// cannot tell it from a timeout.
func TestDeclinedCallStaysPrivate(t *testing.T) {
	ctx := context.Background()
	net := newNetwork()
	alice1 := newDevice(t, net, "alice@example.org")
	bob1 := newDevice(t, net, "bob@example.net")
	bob2 := newDevice(t, net, "bob@example.net")
	all := []*device{alice1, bob1, bob2}

	callID, err := alice1.mgr.PlaceOutgoingCall(ctx, chatWith(t, alice1, bob1.addr), "offer-sdp")
	if err != nil {
		t.Fatal(err)
	}
	deliver(t, net, all...)
	bobCall := store.MsgID(waitFor(t, bob1, bus.KindIncomingCall).MsgID)
	waitFor(t, bob2, bus.KindIncomingCall)

	toAlice := net.count(alice1.addr)
	if err := bob1.mgr.EndCall(ctx, bobCall); err != nil {
		t.Fatal(err)
	}
	waitFor(t, bob1, bus.KindCallEnded)
	deliver(t, net, all...)

	if n := net.count(alice1.addr); n != toAlice {
		t.Errorf("decline sent %d messages to the caller", n-toAlice)
	}
	waitFor(t, bob2, bus.KindCallEnded)
	assertNo(t, alice1, bus.KindCallEnded)

	close(alice1.release)
	if end := waitFor(t, alice1, bus.KindCallEnded); store.MsgID(end.MsgID) != callID {
		t.Errorf("caller ended event = %+v, want msg %d", end, callID)
	}
	info, err := alice1.mgr.LoadCall(ctx, callID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Accepted || !info.Ended {
		t.Errorf("caller call = %+v", info)
	}
}
