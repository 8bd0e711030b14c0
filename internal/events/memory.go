package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

type subscriber struct {
	ch      chan *Event
	handler Handler
}

// MemoryBus is an in-process fan-out bus. Each subscriber gets a buffered
// channel drained by its own goroutine; events are dropped for subscribers
// whose buffer is full.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[Topic]map[string]*subscriber
	closed      bool
	logger      *logger.Logger
}

// NewMemoryBus creates an empty bus. A nil logger discards logs.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[Topic]map[string]*subscriber),
		logger:      logger.OrNop(log).Named("memory_bus"),
	}
}

// Subscribe registers h for topic until ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic, h Handler) error {
	subID := uuid.New().String()
	sub := &subscriber{ch: make(chan *Event, subscriberBufferSize), handler: h}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]*subscriber)
	}
	b.subscribers[topic][subID] = sub
	b.mu.Unlock()

	go func() {
		for e := range sub.ch {
			if err := sub.handler(ctx, e); err != nil {
				b.logger.Warn("event handler failed",
					zap.String("topic", string(topic)),
					zap.String("event_id", e.ID),
					zap.Error(err))
			}
		}
	}()

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, subID)
	}()

	return nil
}

// Publish delivers e to every subscriber of its topic without blocking.
func (b *MemoryBus) Publish(ctx context.Context, e *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.subscribers[e.Topic] {
		select {
		case sub.ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				zap.String("topic", string(e.Topic)),
				zap.String("event_id", e.ID))
		}
	}
	return nil
}

// Close removes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(b.subscribers, topic)
	}
	return nil
}

// subscriberCount returns the number of subscribers for a topic.
func (b *MemoryBus) subscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

func (b *MemoryBus) unsubscribe(topic Topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	sub, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
}
