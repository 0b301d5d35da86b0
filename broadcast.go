package chaty

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultChannelCapacity is the number of in-flight messages a channel retains.
const DefaultChannelCapacity = 100

// ErrChannelEmpty is returned by TryRecv when no message is ready.
var ErrChannelEmpty = goerrors.New("no message available", goerrors.CategoryOperation).
	WithTextCode("CHANNEL_EMPTY")

type slot[T any] struct {
	pos uint64
	val T
}

// BroadcastChannel is a bounded, in-memory, multi-consumer channel.
//
// Every receiver observes every value sent after it subscribed, in send
// order. Send never blocks: the buffer is a ring of fixed capacity and a
// receiver that falls more than capacity values behind gets a *LagError on
// its next receive, then resumes from the oldest retained value.
type BroadcastChannel[T any] struct {
	mu        sync.Mutex
	buf       []slot[T]
	capacity  uint64
	tail      uint64
	receivers int
	closed    bool
	notify    chan struct{}
}

// NewBroadcastChannel creates a channel retaining capacity values.
// Non positive capacities fall back to DefaultChannelCapacity.
func NewBroadcastChannel[T any](capacity int) *BroadcastChannel[T] {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &BroadcastChannel[T]{
		buf:      make([]slot[T], capacity),
		capacity: uint64(capacity),
		notify:   make(chan struct{}),
	}
}

// Send publishes v to all current receivers and returns how many there were.
// With no receivers the value is dropped and ErrNoSubscribers is returned.
func (c *BroadcastChannel[T]) Send(v T) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrChannelClosed
	}

	if c.receivers == 0 {
		return 0, ErrNoSubscribers
	}

	c.buf[c.tail%c.capacity] = slot[T]{pos: c.tail, val: v}
	c.tail++

	close(c.notify)
	c.notify = make(chan struct{})

	return c.receivers, nil
}

// Subscribe returns a receiver that starts at the next sent value.
func (c *BroadcastChannel[T]) Subscribe() *Receiver[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receivers++
	return &Receiver[T]{ch: c, next: c.tail}
}

// ReceiverCount returns the number of open receivers.
func (c *BroadcastChannel[T]) ReceiverCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receivers
}

// Close stops the channel. Receivers drain what is buffered and then get ErrChannelClosed.
func (c *BroadcastChannel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
}

// Receiver is one consumer of a BroadcastChannel. It is not safe for use
// by more than one goroutine.
type Receiver[T any] struct {
	ch     *BroadcastChannel[T]
	next   uint64
	closed bool
}

// TryRecv returns the next value without waiting.
func (r *Receiver[T]) TryRecv() (T, error) {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()
	v, _, err := r.tryRecvLocked()
	return v, err
}

// Recv waits for the next value or for ctx to be done.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	for {
		r.ch.mu.Lock()
		v, wait, err := r.tryRecvLocked()
		r.ch.mu.Unlock()

		if wait == nil {
			return v, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// tryRecvLocked returns a wait channel when the caller should block.
func (r *Receiver[T]) tryRecvLocked() (T, <-chan struct{}, error) {
	var zero T

	if r.closed {
		return zero, nil, ErrChannelClosed
	}

	c := r.ch
	if r.next == c.tail {
		if c.closed {
			return zero, nil, ErrChannelClosed
		}
		return zero, c.notify, ErrChannelEmpty
	}

	var oldest uint64
	if c.tail > c.capacity {
		oldest = c.tail - c.capacity
	}

	if r.next < oldest {
		skipped := oldest - r.next
		r.next = oldest
		return zero, nil, &LagError{Skipped: skipped}
	}

	s := c.buf[r.next%c.capacity]
	r.next++
	return s.val, nil, nil
}

// Close releases the receiver. Safe to call more than once.
func (r *Receiver[T]) Close() {
	r.ch.mu.Lock()
	defer r.ch.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.ch.receivers--
}
