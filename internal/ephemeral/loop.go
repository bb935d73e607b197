package ephemeral

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// housekeepingInterval bounds the sleep when no ephemeral message is pending,
// so retention-based deletion still runs.
const housekeepingInterval = time.Hour

// Interrupter wakes the IMAP session.
type Interrupter interface {
	InterruptInbox()
}

// Loop runs the deletion sweeps with a single timer set to the next
// expiration.
type Loop struct {
	svc    *Service
	imap   Interrupter
	logger *zap.Logger
	now    func() time.Time
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a deletion loop. imap may be nil.
func NewLoop(svc *Service, imap Interrupter, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		svc:    svc,
		imap:   imap,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// SetInterrupter sets the IMAP session woken after server-side deletions.
// It must be called before Start.
func (l *Loop) SetInterrupter(imap Interrupter) { l.imap = imap }

// Start runs the loop until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx)
}

// Stop stops the loop and waits for it to exit.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}

// Interrupt makes the loop recompute its deadline, e.g. after a message with
// an earlier expiry was stored.
func (l *Loop) Interrupt() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		l.Sweep(ctx)

		wait := l.nextWait(ctx)
		l.logger.Debug("ephemeral loop sleeping", zap.Duration("wait", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (l *Loop) nextWait(ctx context.Context) time.Duration {
	ts, ok, err := l.svc.NextExpirationTimestamp(ctx)
	if err != nil {
		l.logger.Warn("failed to compute next expiration", zap.Error(err))
		return time.Minute
	}
	if !ok {
		return housekeepingInterval
	}
	// One extra second so the deadline has passed when the sweep runs.
	wait := time.Unix(ts+1, 0).Sub(l.now())
	if wait < 0 {
		return 0
	}
	if wait > housekeepingInterval {
		return housekeepingInterval
	}
	return wait
}

// Sweep deletes expired messages locally and marks their server copies.
func (l *Loop) Sweep(ctx context.Context) {
	now := l.now().Unix()
	if _, err := l.svc.DeleteExpiredMessages(ctx, now); err != nil {
		l.logger.Error("failed to delete expired messages", zap.Error(err))
	}
	n, err := l.svc.DeleteExpiredIMAPMessages(ctx, now)
	if err != nil {
		l.logger.Error("failed to mark expired server messages", zap.Error(err))
		return
	}
	if n > 0 && l.imap != nil {
		l.imap.InterruptInbox()
	}
}
