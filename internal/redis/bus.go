package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

// Bus carries events over Redis channels named after their topic.
// Redis pub/sub keeps nothing for absent subscribers.
type Bus struct {
	client *redis.Client
	logger *logger.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewBus wraps a connected client.
func NewBus(client *redis.Client, log *logger.Logger) *Bus {
	return &Bus{
		client: client,
		logger: logger.OrNop(log).Named("redis_bus"),
	}
}

// Publish sends e on the channel of its topic.
func (b *Bus) Publish(ctx context.Context, e *events.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, string(e.Topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events of topic to h until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, topic events.Topic, h events.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return events.ErrBusClosed
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, string(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			e, err := events.Unmarshal([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping malformed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := h(ctx, e); err != nil {
				b.logger.Warn("event handler failed",
					zap.String("topic", string(topic)),
					zap.String("event_id", e.ID),
					zap.Error(err))
			}
		}
	}()

	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()
	return nil
}

// Close ends every subscription and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return b.client.Close()
}

// Ping checks the server connection.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
