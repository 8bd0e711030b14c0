// Package events defines the domain event envelope and the publish/subscribe
// contract implemented by the NATS, Redis and in-memory buses.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrBusClosed is returned by buses that have been closed.
var ErrBusClosed = errors.New("event bus closed")

// Topic names a stream of domain events.
type Topic string

const (
	ConversationCreated Topic = "chat.conversation.created"
	ConversationUpdated Topic = "chat.conversation.updated"
	ConversationDeleted Topic = "chat.conversation.deleted"
	MemberAdded         Topic = "chat.conversation.member.added"
	TopicUpdated        Topic = "chat.conversation.topic.updated"
	MessageCreated      Topic = "chat.message.created"
)

// Topics lists every topic the service publishes.
func Topics() []Topic {
	return []Topic{
		ConversationCreated,
		ConversationUpdated,
		ConversationDeleted,
		MemberAdded,
		TopicUpdated,
		MessageCreated,
	}
}

// Valid reports whether t is one of Topics.
func (t Topic) Valid() bool {
	for _, known := range Topics() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is the envelope carried by every bus.
type Event struct {
	ID          string          `json:"id"`
	Topic       Topic           `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// New wraps payload into an event for topic.
func New(topic Topic, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return &Event{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Topic:       topic,
		Payload:     data,
		PublishedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Topic, err)
	}
	return nil
}

// Marshal encodes the envelope for the wire.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope received from the wire.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &e, nil
}

// Handler processes one event.
type Handler func(ctx context.Context, e *Event) error

// Publisher hands events to the bus. Delivery is not acknowledged.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Subscriber registers handlers. A subscription lasts until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, topic Topic, h Handler) error
}

// Bus is a publisher and subscriber with a lifecycle.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}
