package model

import (
	"sync"
	"time"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// Flash holds one transient notification. The zero value is ready to use.
type Flash struct {
	mu      sync.RWMutex
	text    string
	level   FlashLevel
	expires time.Time
	now     func() time.Time
}

// Info shows msg for a few seconds.
func (f *Flash) Info(msg string) { f.set(msg, FlashInfo, 4*time.Second) }

// Warn shows msg a little longer than Info.
func (f *Flash) Warn(msg string) { f.set(msg, FlashWarn, 8*time.Second) }

// Err shows err until it is replaced or ten seconds pass.
func (f *Flash) Err(err error) { f.set(err.Error(), FlashErr, 10*time.Second) }

func (f *Flash) set(msg string, level FlashLevel, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.level, f.expires = msg, level, f.clock().Add(d)
}

// Current returns the live message, or "" once it has expired.
func (f *Flash) Current() (string, FlashLevel) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.clock().Before(f.expires) {
		return "", FlashInfo
	}
	return f.text, f.level
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}
