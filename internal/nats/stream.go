package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

const (
	// StreamName is the name of the chat events stream.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"

	publishFlushTimeout = 5 * time.Second
)

// EventStream publishes domain events to JetStream and delivers them to
// core NATS subscribers. It implements events.Bus.
type EventStream struct {
	client *Client
	logger *logger.Logger
}

// NewEventStream creates a new event stream.
func NewEventStream(client *Client, log *logger.Logger) *EventStream {
	return &EventStream{
		client: client,
		logger: logger.OrNop(log).Named("event_stream"),
	}
}

// EnsureStream ensures the chat stream exists so indexers can replay events.
func (s *EventStream) EnsureStream(ctx context.Context) error {
	js := s.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		Description: "Chat conversation and message domain events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish hands e to JetStream without waiting for the acknowledgement.
func (s *EventStream) Publish(ctx context.Context, e *events.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.client.JetStream().PublishAsync(string(e.Topic), data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events of topic to h through a core subscription.
func (s *EventStream) Subscribe(ctx context.Context, topic events.Topic, h events.Handler) error {
	sub, err := s.client.Conn().Subscribe(string(topic), func(m *nats.Msg) {
		e, err := events.Unmarshal(m.Data)
		if err != nil {
			s.logger.Warn("dropping malformed event", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		if err := h(ctx, e); err != nil {
			s.logger.Warn("event handler failed",
				zap.String("topic", string(topic)),
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			s.logger.Debug("unsubscribe failed", zap.String("topic", string(topic)), zap.Error(err))
		}
	}()
	return nil
}

// Close waits briefly for pending publishes and closes the connection.
func (s *EventStream) Close() error {
	select {
	case <-s.client.JetStream().PublishAsyncComplete():
	case <-time.After(publishFlushTimeout):
		s.logger.Warn("closing with unacknowledged events",
			zap.Int("pending", s.client.JetStream().PublishAsyncPending()))
	}
	s.client.Close()
	return nil
}
