// Package broadcast implements a single-slot, latest-value fan-out channel.
//
// One producer publishes into a slot holding (sequence, value). Any number of
// subscribers read from it at their own pace; a subscriber that falls behind
// skips straight to the newest value. Memory use is one value regardless of
// how many subscribers exist or how slow they are.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Receive and Publish once the broadcaster is closed.
// It marks the end of the stream rather than a failure.
var ErrClosed = errors.New("broadcast: channel closed")

// Broadcaster holds the most recently published value of type T.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	seq     uint64
	value   T
	closed  bool
	changed chan struct{} // closed and replaced on every publish, closed for good on Close

	subscribers atomic.Int64
}

// New returns an open broadcaster with an empty slot (sequence 0).
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{changed: make(chan struct{})}
}

// Publish overwrites the slot, advances the sequence and wakes every parked
// receiver. It never blocks on subscribers.
func (b *Broadcaster[T]) Publish(value T) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.seq, ErrClosed
	}
	b.seq++
	b.value = value
	close(b.changed)
	b.changed = make(chan struct{})
	return b.seq, nil
}

// Close marks the broadcaster closed and releases all parked receivers.
// Calling it more than once is a no-op.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.changed)
}

// Closed reports whether Close has been called.
func (b *Broadcaster[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Sequence returns the sequence number of the value currently in the slot.
func (b *Broadcaster[T]) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribers returns the number of subscribers that have not been closed.
func (b *Broadcaster[T]) Subscribers() int {
	return int(b.subscribers.Load())
}

// Subscribe creates a new cursor. The cursor starts one behind the current
// sequence, so the first Receive returns the latest published value at once.
// Before anything has been published the first Receive waits for the first
// Publish.
//
// Subscribing to a closed broadcaster is allowed but is not counted as live.
func (b *Broadcaster[T]) Subscribe() *Subscriber[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	cursor := b.seq
	if cursor > 0 {
		cursor--
	}
	counted := !b.closed
	if counted {
		b.subscribers.Add(1)
	}
	return &Subscriber[T]{b: b, cursor: cursor, counted: counted}
}

// Subscriber is one consumer's view of a Broadcaster. It is owned by a single
// goroutine and must not be shared.
type Subscriber[T any] struct {
	b       *Broadcaster[T]
	cursor  uint64
	counted bool
	once    sync.Once
}

// Cursor returns the sequence number of the last value this subscriber received.
func (s *Subscriber[T]) Cursor() uint64 {
	return s.cursor
}

// Receive waits until a value newer than the cursor is published, the
// broadcaster is closed, or ctx is done. Values published in between are
// skipped. After close every call returns ErrClosed, even if an unread value
// is still in the slot.
func (s *Subscriber[T]) Receive(ctx context.Context) (T, uint64, error) {
	var zero T
	for {
		s.b.mu.Lock()
		if s.b.closed {
			s.b.mu.Unlock()
			return zero, s.cursor, ErrClosed
		}
		if s.b.seq > s.cursor {
			value, seq := s.b.value, s.b.seq
			s.b.mu.Unlock()
			s.cursor = seq
			return value, seq, nil
		}
		wait := s.b.changed
		s.b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return zero, s.cursor, ctx.Err()
		}
	}
}

// Close detaches the subscriber from the broadcaster's live count.
func (s *Subscriber[T]) Close() {
	s.once.Do(func() {
		if s.counted {
			s.b.subscribers.Add(-1)
		}
	})
}
