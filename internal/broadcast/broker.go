// Package broadcast fans out step status updates to independent subscribers.
//
// Delivery is best-effort with bounded buffering: a subscriber that falls
// behind loses its oldest updates and is told how many were dropped. A slow
// subscriber never stalls a publisher.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/me/lightci/pkg/model"
)

// DefaultBuffer is the per-subscriber update buffer size.
const DefaultBuffer = 100

// Broker is a multi-producer, multi-consumer publication channel for
// StepStatusUpdate messages. Subscribers joining mid-build do not receive
// history; history lives in the store.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	buffer int
	logger *slog.Logger
}

// NewBroker creates a Broker with the given per-subscriber buffer size.
// A non-positive buffer falls back to DefaultBuffer.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger.With("component", "broadcast"),
	}
}

// Subscribe registers a new subscriber. The caller must Unsubscribe when done.
func (b *Broker) Subscribe() *Subscriber {
	s := &Subscriber{
		ch:     make(chan model.StepStatusUpdate, b.buffer),
		broker: b,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its update channel.
// Safe to call more than once.
func (b *Broker) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

// Publish delivers an update to every subscriber without blocking. A full
// subscriber drops its oldest buffered update to make room.
func (b *Broker) Publish(u model.StepStatusUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- u:
			continue
		default:
		}
		// Buffer full: evict the oldest update, then retry once. Publish
		// holds the broker lock, so no other publisher can refill the slot
		// in between; if the retry still finds the buffer full, the new
		// update is the one counted dropped.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- u:
		default:
			s.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unsubscribes every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Subscriber is an independent reader handle on the broker.
type Subscriber struct {
	ch      chan model.StepStatusUpdate
	dropped atomic.Uint64
	broker  *Broker
}

// Updates returns the subscriber's receive channel. The channel is closed
// when the subscriber is unsubscribed or the broker closes.
func (s *Subscriber) Updates() <-chan model.StepStatusUpdate {
	return s.ch
}

// Dropped reports how many updates were lost because this subscriber
// fell behind.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes this subscriber from its broker.
func (s *Subscriber) Close() {
	s.broker.Unsubscribe(s)
}
