// Package stream delivers newly committed entries to live observers in
// commit order. Publishing is never on the commit's critical path: a
// full observer buffer disconnects that observer instead of blocking
// the appender, and the observer re-synchronizes through the query
// engine. Gaps are always signaled, never silent.
package stream

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ppiankov/trustlog/internal/model"
)

// DefaultBuffer is the per-observer backlog bound when the caller
// passes none.
const DefaultBuffer = 256

// Subscription is one observer's private, ordered view of the commit
// stream. Entries arrive in strictly increasing sequence order. The
// channel closes on Close or on overrun; Overrun distinguishes the two.
type Subscription struct {
	id     string
	ch     chan model.LogEntry
	broker *Broker

	mu      sync.Mutex
	closed  bool
	overrun bool
}

// ID identifies the subscription for logging.
func (s *Subscription) ID() string { return s.id }

// Entries is the ordered delivery channel. It is closed when the
// subscription ends.
func (s *Subscription) Entries() <-chan model.LogEntry { return s.ch }

// Overrun reports whether the subscription was disconnected because
// its backlog exceeded the bound. After an overrun the observer has a
// gap and must catch up via a query before resubscribing.
func (s *Subscription) Overrun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrun
}

// Close detaches the observer and closes the delivery channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s.id)
	s.terminate(false)
}

func (s *Subscription) terminate(overrun bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.overrun = overrun
	close(s.ch)
}

// Broker fans committed entries out to all current subscriptions.
// The appender is its only publisher, so per-observer ordering is the
// channel's FIFO ordering.
type Broker struct {
	buffer int

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBroker creates a Broker with the given per-observer buffer bound.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		buffer: buffer,
		subs:   map[string]*Subscription{},
	}
}

// Subscribe registers a new observer. Delivery starts with the next
// committed entry; history is available through the query engine.
func (b *Broker) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		ch:     make(chan model.LogEntry, b.buffer),
		broker: b,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Publish hands e to every subscription without blocking. An observer
// whose buffer is full is disconnected with its overrun flag set.
func (b *Broker) Publish(e model.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			delete(b.subs, id)
			sub.terminate(true)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every observer cleanly.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[string]*Subscription{}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.terminate(false)
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
