package snapbus

import (
	"context"
	"sync"
)

// Receiver holds the latest published value for a DropOld subscriber.
type Receiver[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	value  T
	seq    uint64 // bumped on every set
	read   uint64 // seq of the last value returned by Receive
	closed bool
}

func newReceiver[T any]() *Receiver[T] {
	r := &Receiver[T]{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// set stores v and reports whether an unread value was replaced.
func (r *Receiver[T]) set(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	overwrote := r.seq > r.read
	r.value = v
	r.seq++
	r.cond.Broadcast()
	return overwrote
}

// Receive blocks until a value newer than the last one returned is
// available. Intermediate values published in between are skipped.
func (r *Receiver[T]) Receive(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for r.seq == r.read {
		if r.closed {
			return zero, ErrReceiverClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		r.cond.Wait()
	}
	if r.closed {
		return zero, ErrReceiverClosed
	}
	r.read = r.seq
	return r.value, nil
}

// TryReceive returns the latest value without blocking. ok is false until
// something has been published.
func (r *Receiver[T]) TryReceive() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seq == 0 {
		return v, false
	}
	r.read = r.seq
	return r.value, true
}

// Close wakes any blocked Receive. Idempotent.
func (r *Receiver[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}
