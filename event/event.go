// Package event fans engine events out to subscribers, feeding the
// SubscribeEvents streaming RPC. Delivery is best effort: slow subscribers
// drop events rather than stall the engine's write path.
package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aifs-project/aifs/model"
)

const defaultBuffer = 128

// Broker is an in-process publish/subscribe hub for engine events.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
	logger *slog.Logger
	closed bool
}

type subscription struct {
	ch        chan model.Event
	namespace string
	types     map[model.EventType]struct{}
}

// Option is a functional option for NewBroker.
type Option func(*Broker)

// WithLogger sets the logger for the broker.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates an event broker.
func NewBroker(optFns ...Option) *Broker {
	b := &Broker{
		subs:   make(map[int]*subscription),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(b)
	}
	return b
}

// SubscribeOption narrows a subscription.
type SubscribeOption func(*subscription)

// WithNamespace restricts delivery to one namespace.
func WithNamespace(namespace string) SubscribeOption {
	return func(s *subscription) { s.namespace = namespace }
}

// WithTypes restricts delivery to the listed event types.
func WithTypes(types ...model.EventType) SubscribeOption {
	return func(s *subscription) {
		s.types = make(map[model.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

// Subscribe registers a subscriber. The returned channel closes when ctx is
// done or the broker shuts down.
func (b *Broker) Subscribe(ctx context.Context, optFns ...SubscribeOption) <-chan model.Event {
	sub := &subscription{ch: make(chan model.Event, defaultBuffer)}
	for _, fn := range optFns {
		fn(sub)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}()

	return sub.ch
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *Broker) Publish(event model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.namespace != "" && sub.namespace != event.Namespace {
			continue
		}
		if sub.types != nil {
			if _, ok := sub.types[event.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("event dropped for slow subscriber",
				slog.String("type", event.Type.String()),
				slog.String("namespace", event.Namespace),
			)
		}
	}
}

// Close shuts the broker down and closes all subscriber channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
