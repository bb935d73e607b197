// Package syncitems carries state changes to the user's other devices.
//
// Items are queued in the multi_device_sync table and flushed as a single
// hidden message addressed to ourselves only. Other chat members never see
// them.
package syncitems

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatmail/internal/store"
	"go.uber.org/zap"
)

// Data is the payload of a sync item.
type Data interface {
	kind() string
}

// RejectIncomingCall tells other devices that an incoming call was declined
// here. Msg is the Message-ID of the call message.
type RejectIncomingCall struct {
	Msg string `json:"msg"`
}

func (RejectIncomingCall) kind() string { return "RejectIncomingCall" }

// Item is one queued change.
type Item struct {
	ID        string
	Timestamp int64
	Data      Data
}

type wireItem struct {
	ID        string                     `json:"id"`
	Timestamp int64                      `json:"timestamp"`
	Data      map[string]json.RawMessage `json:"data"`
}

type wireBody struct {
	Items []json.RawMessage `json:"items"`
}

// MarshalJSON encodes the item with its data tagged by kind.
func (it Item) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(it.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireItem{
		ID:        it.ID,
		Timestamp: it.Timestamp,
		Data:      map[string]json.RawMessage{it.Data.kind(): raw},
	})
}

// UnmarshalJSON decodes an item. Unknown kinds leave Data nil.
func (it *Item) UnmarshalJSON(b []byte) error {
	var w wireItem
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	it.ID = w.ID
	it.Timestamp = w.Timestamp
	it.Data = nil
	for k, raw := range w.Data {
		switch k {
		case RejectIncomingCall{}.kind():
			var d RejectIncomingCall
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			it.Data = d
		}
	}
	return nil
}

// Decode parses the body of a sync message. Items of unknown kind are
// skipped so newer devices can add kinds.
func Decode(body string) ([]Item, error) {
	var w wireBody
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return nil, fmt.Errorf("decode sync items: %w", err)
	}
	items := make([]Item, 0, len(w.Items))
	for _, raw := range w.Items {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, err
		}
		if it.Data != nil {
			items = append(items, it)
		}
	}
	return items, nil
}

// SelfSender sends a message to our own address only.
type SelfSender interface {
	SendSelf(ctx context.Context, msg *store.Message) (store.MsgID, error)
}

// Channel queues items and flushes them to the other devices.
type Channel struct {
	db     *store.DB
	sender SelfSender
	logger *zap.Logger
	now    func() time.Time
}

// NewChannel creates a sync channel.
func NewChannel(db *store.DB, sender SelfSender, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{db: db, sender: sender, logger: logger, now: time.Now}
}

// Add queues a sync item.
func (c *Channel) Add(ctx context.Context, d Data) error {
	b, err := json.Marshal(Item{ID: uuid.NewString(), Timestamp: c.now().Unix(), Data: d})
	if err != nil {
		return fmt.Errorf("encode sync item: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `INSERT INTO multi_device_sync (item) VALUES (?)`, string(b)); err != nil {
		return fmt.Errorf("queue sync item: %w", err)
	}
	return nil
}

// Flush sends all queued items as one message and removes them from the
// queue. It returns the id of the sent message, or 0 when nothing was queued.
func (c *Channel) Flush(ctx context.Context) (store.MsgID, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, item FROM multi_device_sync ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("query sync items: %w", err)
	}
	var ids []int64
	var body wireBody
	for rows.Next() {
		var id int64
		var item string
		if err := rows.Scan(&id, &item); err != nil {
			_ = rows.Close()
			return 0, err
		}
		ids = append(ids, id)
		body.Items = append(body.Items, json.RawMessage(item))
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	b, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode sync body: %w", err)
	}
	msg := &store.Message{
		Viewtype: store.ViewtypeText,
		InfoType: store.InfoMultiDeviceSync,
		Text:     string(b),
		Hidden:   true,
		Param:    store.Params{store.ParamSyncItems: "1"},
	}
	msgID, err := c.sender.SendSelf(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("send sync items: %w", err)
	}

	for _, id := range ids {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM multi_device_sync WHERE id = ?`, id); err != nil {
			return msgID, fmt.Errorf("dequeue sync item %d: %w", id, err)
		}
	}
	c.logger.Info("sync items sent", zap.Int("count", len(ids)), zap.Int64("msg_id", int64(msgID)))
	return msgID, nil
}
