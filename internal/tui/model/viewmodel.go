// Package model caches daemon state for the terminal UI.
package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatmail/internal/api"
	"github.com/matheus3301/chatmail/internal/bus"
	"google.golang.org/protobuf/types/known/structpb"
)

const listLimit = 100

// Backend is the part of the daemon client the view model calls.
type Backend interface {
	Call(ctx context.Context, service, method string, req map[string]any) (*structpb.Struct, error)
}

// Status is the account header shown in the status bar.
type Status struct {
	Account  string
	Addr     string
	State    string
	Since    time.Time
	Chats    int64
	Messages int64
}

// Chat is one row of the chat list.
type Chat struct {
	ID             int64
	Name           string
	Timer          int64
	ContactRequest bool
	Blocked        bool
}

// Message is one entry of the open thread. Reactions is the histogram
// summary such as "❤1 👍2".
type Message struct {
	ID        int64
	Text      string
	Outgoing  bool
	Info      bool
	Timestamp int64
	ExpiresAt int64
	Download  string
	Reactions string
}

// Call is the most recent call the UI has heard about.
type Call struct {
	MsgID       int64
	ChatID      int64
	Incoming    bool
	State       string
	RingSeconds int64
}

// Active reports whether the call still needs an answer or a hangup.
func (c *Call) Active() bool {
	return c != nil && (c.State == "ringing" || c.State == "accepted")
}

// Refresh tells the UI which panes changed after an event.
type Refresh uint8

const (
	RefreshStatus Refresh = 1 << iota
	RefreshChats
	RefreshThread
	RefreshCall
)

// ViewModel caches daemon state. Load methods replace a section under the
// lock; getters hand out copies.
type ViewModel struct {
	mu sync.RWMutex

	backend  Backend
	status   Status
	chats    []Chat
	active   int64
	timer    string
	messages []Message
	call     *Call

	Flash Flash
}

// NewViewModel returns a view model backed by b.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{backend: b}
}

func (vm *ViewModel) invoke(ctx context.Context, service, method string, req map[string]any) (map[string]any, error) {
	resp, err := vm.backend.Call(ctx, service, method, req)
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

// LoadStatus fetches the account status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	m, err := vm.invoke(ctx, api.AccountServiceName, "GetStatus", nil)
	if err != nil {
		return err
	}
	st := Status{
		Account:  str(m, "account"),
		Addr:     str(m, "addr"),
		State:    str(m, "status"),
		Chats:    num(m, "chat_count"),
		Messages: num(m, "message_count"),
	}
	if ms := num(m, "status_since_unix_ms"); ms > 0 {
		st.Since = time.UnixMilli(ms)
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return nil
}

// LoadChats fetches the chat list.
func (vm *ViewModel) LoadChats(ctx context.Context) error {
	m, err := vm.invoke(ctx, api.ChatServiceName, "ListChats", map[string]any{"limit": listLimit})
	if err != nil {
		return err
	}
	var chats []Chat
	for _, c := range objects(m, "chats") {
		chats = append(chats, Chat{
			ID:             num(c, "id"),
			Name:           str(c, "name"),
			Timer:          num(c, "ephemeral_timer"),
			ContactRequest: flag(c, "contact_request"),
			Blocked:        flag(c, "blocked"),
		})
	}
	vm.mu.Lock()
	vm.chats = chats
	vm.mu.Unlock()
	return nil
}

// OpenChat makes chatID the active chat and loads its thread.
func (vm *ViewModel) OpenChat(ctx context.Context, chatID int64) error {
	vm.mu.Lock()
	vm.active = chatID
	vm.messages, vm.timer = nil, ""
	vm.mu.Unlock()
	return vm.LoadThread(ctx)
}

// LoadThread refreshes messages, reactions and timer of the active chat.
func (vm *ViewModel) LoadThread(ctx context.Context) error {
	chatID := vm.ActiveChat()
	if chatID == 0 {
		return nil
	}
	m, err := vm.invoke(ctx, api.MessageServiceName, "ListMessages", map[string]any{"chat_id": chatID, "limit": listLimit})
	if err != nil {
		return err
	}
	raw := objects(m, "messages")
	// The daemon lists newest first.
	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		msg := Message{
			ID:        num(r, "id"),
			Text:      str(r, "text"),
			Outgoing:  flag(r, "outgoing"),
			Info:      num(r, "info_type") != 0,
			Timestamp: num(r, "timestamp"),
			ExpiresAt: num(r, "ephemeral_timestamp"),
			Download:  str(r, "download_state"),
		}
		if !msg.Info {
			rs, err := vm.invoke(ctx, api.MessageServiceName, "GetReactions", map[string]any{"msg_id": msg.ID})
			if err != nil {
				return err
			}
			msg.Reactions = str(rs, "summary")
		}
		msgs = append(msgs, msg)
	}
	t, err := vm.invoke(ctx, api.ChatServiceName, "GetEphemeralTimer", map[string]any{"chat_id": chatID})
	if err != nil {
		return err
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.active != chatID {
		return nil
	}
	vm.messages, vm.timer = msgs, str(t, "text")
	return nil
}

// LoadCall fetches the state of the call rooted at msgID.
func (vm *ViewModel) LoadCall(ctx context.Context, msgID int64) error {
	m, err := vm.invoke(ctx, api.CallServiceName, "GetCallInfo", map[string]any{"msg_id": msgID})
	if err != nil {
		return err
	}
	c := &Call{
		MsgID:       msgID,
		ChatID:      num(m, "chat_id"),
		Incoming:    flag(m, "incoming"),
		State:       str(m, "state"),
		RingSeconds: num(m, "ring_seconds"),
	}
	vm.mu.Lock()
	vm.call = c
	vm.mu.Unlock()
	return nil
}

// CreateChat opens a chat with addr and makes it active.
func (vm *ViewModel) CreateChat(ctx context.Context, addr string) error {
	m, err := vm.invoke(ctx, api.ChatServiceName, "CreateChat", map[string]any{"addr": addr})
	if err != nil {
		return err
	}
	if err := vm.LoadChats(ctx); err != nil {
		return err
	}
	return vm.OpenChat(ctx, num(m, "chat_id"))
}

// AcceptChat turns the active contact request into a normal chat.
func (vm *ViewModel) AcceptChat(ctx context.Context) error {
	chatID := vm.ActiveChat()
	if chatID == 0 {
		return errNoChat
	}
	if _, err := vm.invoke(ctx, api.ChatServiceName, "AcceptChat", map[string]any{"chat_id": chatID}); err != nil {
		return err
	}
	return vm.LoadChats(ctx)
}

// SendText sends text to the active chat.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	chatID := vm.ActiveChat()
	if chatID == 0 {
		return errNoChat
	}
	if _, err := vm.invoke(ctx, api.MessageServiceName, "SendText", map[string]any{"chat_id": chatID, "text": text}); err != nil {
		return err
	}
	return vm.LoadThread(ctx)
}

// SetTimer changes the disappearing-messages timer of the active chat.
// Zero disables it.
func (vm *ViewModel) SetTimer(ctx context.Context, seconds int64) error {
	chatID := vm.ActiveChat()
	if chatID == 0 {
		return errNoChat
	}
	if _, err := vm.invoke(ctx, api.ChatServiceName, "SetEphemeralTimer", map[string]any{"chat_id": chatID, "timer": seconds}); err != nil {
		return err
	}
	return vm.LoadThread(ctx)
}

// React replaces our reaction to msgID. An empty reaction retracts it.
func (vm *ViewModel) React(ctx context.Context, msgID int64, reaction string) error {
	if _, err := vm.invoke(ctx, api.MessageServiceName, "SendReaction", map[string]any{"msg_id": msgID, "reaction": reaction}); err != nil {
		return err
	}
	return vm.LoadThread(ctx)
}

// Download asks the daemon to fetch the full body of a partial message.
func (vm *ViewModel) Download(ctx context.Context, msgID int64) error {
	_, err := vm.invoke(ctx, api.MessageServiceName, "DownloadFull", map[string]any{"msg_id": msgID})
	return err
}

// PlaceCall rings the active chat.
func (vm *ViewModel) PlaceCall(ctx context.Context, info string) error {
	chatID := vm.ActiveChat()
	if chatID == 0 {
		return errNoChat
	}
	m, err := vm.invoke(ctx, api.CallServiceName, "PlaceCall", map[string]any{"chat_id": chatID, "info": info})
	if err != nil {
		return err
	}
	return vm.LoadCall(ctx, num(m, "msg_id"))
}

// AcceptCall picks up the current incoming call.
func (vm *ViewModel) AcceptCall(ctx context.Context, info string) error {
	c := vm.Call()
	if c == nil || !c.Incoming {
		return errNoCall
	}
	if _, err := vm.invoke(ctx, api.CallServiceName, "AcceptCall", map[string]any{"msg_id": c.MsgID, "info": info}); err != nil {
		return err
	}
	return vm.LoadCall(ctx, c.MsgID)
}

// EndCall hangs up or declines the current call.
func (vm *ViewModel) EndCall(ctx context.Context) error {
	c := vm.Call()
	if !c.Active() {
		return errNoCall
	}
	if _, err := vm.invoke(ctx, api.CallServiceName, "EndCall", map[string]any{"msg_id": c.MsgID}); err != nil {
		return err
	}
	return vm.LoadCall(ctx, c.MsgID)
}

// HandleEvent reloads whatever an event envelope invalidates and reports
// the panes to redraw.
func (vm *ViewModel) HandleEvent(ctx context.Context, kind string, payload map[string]any) (Refresh, error) {
	chatID := num(payload, "chat_id")
	inActive := chatID != 0 && chatID == vm.ActiveChat()

	switch {
	case kind == bus.KindConnectivityChanged:
		return RefreshStatus, vm.LoadStatus(ctx)

	case kind == bus.KindChatEphemeralTimerModified:
		r := RefreshChats
		if err := vm.LoadChats(ctx); err != nil {
			return r, err
		}
		if inActive {
			r |= RefreshThread
			return r, vm.LoadThread(ctx)
		}
		return r, nil

	case strings.HasPrefix(kind, "call."):
		if kind == bus.KindIncomingCall {
			vm.Flash.Warn("incoming call, :accept or :hangup")
		}
		return RefreshCall, vm.LoadCall(ctx, num(payload, "msg_id"))

	case strings.HasPrefix(kind, "msg."):
		var r Refresh
		if kind == bus.KindMsgSendFailed {
			vm.Flash.Warn("message could not be sent")
		}
		if kind == bus.KindIncomingMsg {
			r |= RefreshChats
			if err := vm.LoadChats(ctx); err != nil {
				return r, err
			}
		}
		if inActive || (chatID == 0 && vm.ActiveChat() != 0) {
			r |= RefreshThread
			return r, vm.LoadThread(ctx)
		}
		return r, nil
	}
	return 0, nil
}

// Status returns the cached account status.
func (vm *ViewModel) Status() Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Chats returns a copy of the chat list.
func (vm *ViewModel) Chats() []Chat {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]Chat(nil), vm.chats...)
}

// ActiveChat returns the open chat id, or 0.
func (vm *ViewModel) ActiveChat() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// ChatName returns the display name of chatID, falling back to its id.
func (vm *ViewModel) ChatName(chatID int64) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.chats {
		if c.ID == chatID && c.Name != "" {
			return c.Name
		}
	}
	return "#" + itoa(chatID)
}

// Messages returns a copy of the open thread, oldest first.
func (vm *ViewModel) Messages() []Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]Message(nil), vm.messages...)
}

// Timer returns the timer text of the open chat, such as "1 hour".
func (vm *ViewModel) Timer() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.timer
}

// Call returns a copy of the current call, or nil.
func (vm *ViewModel) Call() *Call {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.call == nil {
		return nil
	}
	c := *vm.call
	return &c
}
