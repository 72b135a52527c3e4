package snapbus

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("snapbus: bus is closed")
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("snapbus: subscriber already exists")
	// ErrSubscriberNotFound is returned for an unknown subscriber id.
	ErrSubscriberNotFound = errors.New("snapbus: subscriber not found")
	// ErrNilChannel is returned when Subscribe is given a nil channel.
	ErrNilChannel = errors.New("snapbus: nil channel provided")
	// ErrReceiverClosed is returned by Receive after Unsubscribe or Close.
	ErrReceiverClosed = errors.New("snapbus: receiver is closed")
)

// DropPolicy defines what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	// DropNew drops the incoming value if the subscriber's buffer is full.
	DropNew DropPolicy = iota
	// DropOld replaces the held value (latest-only).
	DropOld
)

func (p DropPolicy) String() string {
	if p == DropOld {
		return "drop_old"
	}
	return "drop_new"
}

type subscriber[T any] struct {
	policy      DropPolicy
	ch          chan<- T     // DropNew
	latest      *Receiver[T] // DropOld
	sent        atomic.Uint64
	dropped     atomic.Uint64
	overwritten atomic.Uint64
}

// Bus distributes values of type T to subscribers.
type Bus[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T]
	closed      bool

	totalPublished atomic.Uint64
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subscribers: make(map[string]*subscriber[T])}
}

// Subscribe registers a channel with the DropNew policy.
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber[T]{policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a latest-only receiver (DropOld policy).
func (b *Bus[T]) SubscribeLatest(id string) (*Receiver[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	rx := newReceiver[T]()
	b.subscribers[id] = &subscriber[T]{policy: DropOld, latest: rx}
	return rx, nil
}

// Unsubscribe removes a subscriber. A DropOld receiver is closed; a DropNew
// channel is left open (the subscriber owns it).
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if sub.latest != nil {
		sub.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Publish hands v to every subscriber without blocking. Publishing on a
// closed bus is a no-op.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for _, sub := range b.subscribers {
		switch sub.policy {
		case DropNew:
			select {
			case sub.ch <- v:
				sub.sent.Add(1)
			default:
				sub.dropped.Add(1)
			}
		case DropOld:
			if sub.latest.set(v) {
				sub.overwritten.Add(1)
			}
			sub.sent.Add(1)
		}
	}
}

// Close stops the bus and closes every DropOld receiver. Subscriber channels
// are not closed. Idempotent.
func (b *Bus[T]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscribers {
		if sub.latest != nil {
			sub.latest.Close()
		}
	}
	return nil
}
