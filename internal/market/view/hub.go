package view

import (
	"sync"
	"sync/atomic"
)

// Subscription receives values published to a Hub.
type Subscription[T any] struct {
	ch        chan T
	closeOnce sync.Once
}

// C returns the delivery channel. It is closed on Unsubscribe or hub Close.
func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Hub fans values out to subscribers and remembers the latest one.
// A new subscriber receives the latest value first and only newer values
// afterwards. Slow subscribers lose their oldest pending value, never the newest.
type Hub[T any] struct {
	mu        sync.Mutex
	subs      map[*Subscription[T]]struct{}
	latest    T
	hasLatest bool
	closed    bool

	dropped atomic.Int64
}

// NewHub creates an empty Hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer (minimum 1).
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription[T]{ch: make(chan T, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}
	if h.hasLatest {
		sub.ch <- h.latest
	}
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// Publish records v as the latest value and offers it to every subscriber
// without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.latest, h.hasLatest = v, true
	for sub := range h.subs {
		h.offer(sub, v)
	}
}

func (h *Hub[T]) offer(sub *Subscription[T], v T) {
	select {
	case sub.ch <- v:
		return
	default:
	}

	// Full: make room by discarding the oldest pending value.
	select {
	case <-sub.ch:
		h.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- v:
	default:
		h.dropped.Add(1)
	}
}

// Latest returns the most recently published value.
func (h *Hub[T]) Latest() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.hasLatest
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many values were discarded for slow subscribers.
func (h *Hub[T]) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every subscription. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.close()
		delete(h.subs, sub)
	}
}
