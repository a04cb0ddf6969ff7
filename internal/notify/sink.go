// Package notify delivers ledger change events to consumers.
package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"solana-trade-ledger/internal/domain"
)

// Sink receives ledger events.
type Sink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event domain.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Fanout publishes every event to each sink in order. A failing sink does
// not stop delivery to the rest; all errors are joined.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fan-out over sinks. Nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

var _ Sink = (*Fanout)(nil)

// Publish delivers event to every sink.
func (f *Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Broker is an in-process pub/sub. Each subscriber gets its own buffered
// channel; a full subscriber drops events instead of blocking publishers.
type Broker struct {
	mu      sync.RWMutex
	subs    map[int]chan domain.Event
	nextID  int
	dropped atomic.Int64
	closed  bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan domain.Event)}
}

var _ Sink = (*Broker)(nil)

// Subscribe registers a subscriber with the given buffer. The returned
// cancel func unsubscribes and closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers event to every subscriber without blocking.
func (b *Broker) Publish(_ context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were dropped on full subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
