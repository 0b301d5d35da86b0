package chaty

import (
	"sort"
	"sync"
)

// ChannelRegistry maps a routing key to its broadcast channel.
// Entries are created on demand by EnsureChannel and kept until Close.
type ChannelRegistry[T any] struct {
	mu       sync.Mutex
	channels map[string]*BroadcastChannel[T]
	capacity int
}

// RegistryOption customizes a ChannelRegistry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	capacity int
}

// WithChannelCapacity overrides the per channel buffer size.
func WithChannelCapacity(capacity int) RegistryOption {
	return func(o *registryOptions) {
		if capacity > 0 {
			o.capacity = capacity
		}
	}
}

// NewChannelRegistry returns an empty registry.
func NewChannelRegistry[T any](opts ...RegistryOption) *ChannelRegistry[T] {
	o := registryOptions{capacity: DefaultChannelCapacity}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &ChannelRegistry[T]{
		channels: make(map[string]*BroadcastChannel[T]),
		capacity: o.capacity,
	}
}

// EnsureChannel creates the channel for key if missing. It reports whether
// a channel was created; concurrent callers for the same key create at most one.
func (r *ChannelRegistry[T]) EnsureChannel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[key]; ok {
		return false
	}
	r.channels[key] = NewBroadcastChannel[T](r.capacity)
	return true
}

// Producer returns the channel for key without creating it.
func (r *ChannelRegistry[T]) Producer(key string) (*BroadcastChannel[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[key]
	return ch, ok
}

// Subscribe returns a new receiver on the channel for key, starting at "now".
func (r *ChannelRegistry[T]) Subscribe(key string) (*Receiver[T], bool) {
	ch, ok := r.Producer(key)
	if !ok {
		return nil, false
	}
	return ch.Subscribe(), true
}

// Len returns the number of registered channels.
func (r *ChannelRegistry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Keys returns the registered keys in sorted order.
func (r *ChannelRegistry[T]) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.channels))
	for k := range r.channels {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Close closes every channel and empties the registry.
func (r *ChannelRegistry[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, ch := range r.channels {
		ch.Close()
		delete(r.channels, k)
	}
}
