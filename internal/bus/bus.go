package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus fans events out to in-process listeners by kind prefix. Delivery never
// blocks the emitter: a listener whose buffer is full misses the event and
// the miss is counted.
type Bus struct {
	mu        sync.RWMutex
	listeners map[*listener]struct{}
	dropped   atomic.Uint64
}

type listener struct {
	prefix string
	ch     chan Event
}

func (l *listener) wants(kind string) bool {
	return strings.HasPrefix(kind, l.prefix)
}

// New returns a bus with no listeners.
func New() *Bus {
	return &Bus{listeners: make(map[*listener]struct{})}
}

// Publish hands evt to every listener whose prefix matches evt.Kind. A nil
// bus discards the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		if !l.wants(evt.Kind) {
			continue
		}
		select {
		case l.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes a timestamped event of the given kind.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(NewEvent(kind, payload))
}

// Dropped reports how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe registers a listener for kinds starting with prefix; an empty
// prefix matches everything. The returned func removes the listener and is
// safe to call more than once.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	l := &listener{prefix: prefix, ch: make(chan Event, bufSize)}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return l.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, l)
			b.mu.Unlock()
		})
	}
}
