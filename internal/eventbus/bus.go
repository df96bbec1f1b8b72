package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
)

// Handler reacts to one event. Returned errors are logged by the bus and never
// reach the publisher.
type Handler func(ctx context.Context, evt Event) error

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe hub. Publish runs every current
// subscriber of the topic on the caller's goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Topic][]subscription
	nextID   uint64
	log      *logrus.Entry
}

func New(logger *logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[Topic][]subscription),
		log:      logger.WithComponent("eventbus"),
	}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, name: name, handler: h})
	b.log.Debugf("Subscribed %s to %s", name, topic)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				b.log.Debugf("Unsubscribed %s from %s", name, topic)
				return
			}
		}
	}
}

// Publish delivers evt synchronously to the current subscribers.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	topic := evt.Topic()
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	b.log.Debugf("Event published: %s (%d subscribers)", topic, len(subs))
	for _, s := range subs {
		b.dispatch(ctx, topic, s, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, topic Topic, s subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EventBusHandlerFailures.WithLabelValues(string(topic)).Inc()
			b.log.WithFields(logrus.Fields{"topic": topic, "handler": s.name}).
				Errorf("Event handler panicked: %v", r)
		}
	}()

	if err := s.handler(ctx, evt); err != nil {
		metrics.EventBusHandlerFailures.WithLabelValues(string(topic)).Inc()
		b.log.WithFields(logrus.Fields{"topic": topic, "handler": s.name}).
			Errorf("Event handler failed: %v", err)
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}

// On subscribes a handler typed to one payload. The topic is taken from T.
func On[T Event](b *Bus, name string, fn func(ctx context.Context, evt T) error) func() {
	var zero T
	return b.Subscribe(zero.Topic(), name, func(ctx context.Context, evt Event) error {
		typed, ok := evt.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T on topic %s", evt, evt.Topic())
		}
		return fn(ctx, typed)
	})
}
