// Package bus carries normalized events from the source adapter to
// in-process subscribers.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/autokit/internal/model"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("bus: closed")

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Bus fans events out to every subscriber. Publish blocks while a
// subscriber's buffer is full, so no event is silently dropped.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	buffer      int
	closed      atomic.Bool
}

// New creates a bus whose subscriptions buffer up to buffer events.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subscribers: make(map[*Subscription]struct{}),
		buffer:      buffer,
	}
}

// Subscription is one consumer's view of the bus.
type Subscription struct {
	name   string
	bus    *Bus
	ch     chan model.Event
	done   chan struct{}
	closer sync.Once
}

// Events returns the delivery channel. It is never closed; select on Done
// to observe cancellation.
func (s *Subscription) Events() <-chan model.Event { return s.ch }

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Name returns the label given at Subscribe.
func (s *Subscription) Name() string { return s.name }

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closer.Do(func() { close(s.done) })
	s.bus.mu.Lock()
	delete(s.bus.subscribers, s)
	s.bus.mu.Unlock()
}

// Subscribe registers a new consumer.
func (b *Bus) Subscribe(name string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &Subscription{
		name: name,
		bus:  b,
		ch:   make(chan model.Event, b.buffer),
		done: make(chan struct{}),
	}
	b.subscribers[sub] = struct{}{}
	return sub, nil
}

// Publish delivers ev to every live subscriber. It returns ctx.Err() if ctx
// ends before all deliveries complete.
func (b *Bus) Publish(ctx context.Context, ev model.Event) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription and rejects further use.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
