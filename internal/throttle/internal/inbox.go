package internal

import (
	"log/slog"
	"sync/atomic"
)

// Publish offers a frame to the decode loop (implements Throttle.Publish).
//
// Order of checks:
//  1. session not accepting camera input → IdleDrops
//  2. rate limiter denies the frame      → RateDrops
//  3. pending frame still unconsumed     → InboxDrops (overwritten)
//
// Never blocks: the limiter is consulted with Allow, and the mailbox is a
// single slot guarded by a mutex held for a pointer swap.
//
// Contract: frame.Data MUST NOT be modified after Publish.
func (t *throttle) Publish(frame *Frame) {
	if frame == nil {
		return
	}
	atomic.AddUint64(&t.published, 1)

	if accepting, _, _ := t.sink.CameraState(); !accepting {
		atomic.AddUint64(&t.idleDrops, 1)
		return
	}

	if !t.limiter.Allow() {
		atomic.AddUint64(&t.rateDrops, 1)
		return
	}

	t.inboxMu.Lock()
	if t.stopped {
		t.inboxMu.Unlock()
		return
	}
	if t.inboxFrame != nil {
		atomic.AddUint64(&t.inboxDrops, 1)
		slog.Debug("throttle: pending frame overwritten",
			"dropped_seq", t.inboxFrame.Seq,
			"seq", frame.Seq,
		)
	}
	t.inboxFrame = frame
	t.inboxCond.Signal()
	t.inboxMu.Unlock()
}

// next blocks until a frame is pending or the throttle stops.
// Returns nil on shutdown.
func (t *throttle) next() *Frame {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()

	for t.inboxFrame == nil {
		if t.stopped || t.ctx.Err() != nil {
			return nil
		}
		t.inboxCond.Wait()
	}
	if t.stopped || t.ctx.Err() != nil {
		return nil
	}

	frame := t.inboxFrame
	t.inboxFrame = nil
	return frame
}
