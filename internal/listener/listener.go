// Package listener folds real-time conversation events into a client store.
package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/clientstore"
	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
	"github.com/capitalize-ai/chat-platform/pkg/metrics"
)

// ReadMarker records reads on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string, userIDs ...string) (*model.Conversation, error)
}

// Listener applies bus events to the store of one session user.
type Listener struct {
	subscriber events.Subscriber
	store      *clientstore.Store
	reads      ReadMarker
	logger     *logger.Logger
}

// New creates a listener. reads may be nil, in which case reads of the
// open conversation are only tracked locally.
func New(sub events.Subscriber, store *clientstore.Store, reads ReadMarker, log *logger.Logger) *Listener {
	return &Listener{
		subscriber: sub,
		store:      store,
		reads:      reads,
		logger:     logger.OrNop(log).Named("listener").With(zap.String("user_id", store.UserID())),
	}
}

// Start subscribes to every conversation topic until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	for _, topic := range events.Topics() {
		if err := l.subscriber.Subscribe(ctx, topic, l.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	l.logger.Info("listening for conversation events")
	return nil
}

// Handle applies one event.
func (l *Listener) Handle(ctx context.Context, e *events.Event) error {
	err := l.apply(ctx, e)
	metrics.RecordReceive(string(e.Topic), err)
	if err != nil {
		l.logger.Warn("failed to apply event",
			zap.String("topic", string(e.Topic)),
			zap.String("event_id", e.ID),
			zap.Error(err))
	}
	return err
}

func (l *Listener) apply(ctx context.Context, e *events.Event) error {
	userID := l.store.UserID()

	switch e.Topic {
	case events.ConversationCreated:
		var conv model.Conversation
		if err := e.Decode(&conv); err != nil {
			return err
		}
		if conv.Type == model.TypeConfidential || conv.Creator == userID {
			l.store.Add(&conv)
		}

	case events.ConversationDeleted:
		var conv model.Conversation
		if err := e.Decode(&conv); err != nil {
			return err
		}
		l.store.Remove(conv.ID)

	case events.MemberAdded:
		var payload model.MemberAddedEvent
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if payload.Conversation == nil {
			return nil
		}
		if payload.MemberID == userID {
			l.store.Add(payload.Conversation)
		} else {
			l.store.Update(payload.Conversation)
		}

	case events.ConversationUpdated:
		var payload model.ConversationUpdatedEvent
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if payload.Conversation == nil {
			return nil
		}
		for _, m := range payload.DeletedMembers {
			if m == userID {
				l.store.Remove(payload.Conversation.ID)
				return nil
			}
		}
		l.store.Update(payload.Conversation)

	case events.TopicUpdated:
		var payload model.TopicUpdatedEvent
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if payload.Conversation != nil {
			l.store.SetTopic(payload.Conversation.ID, payload.Conversation.Topic)
		}

	case events.MessageCreated:
		var payload model.MessageCreatedEvent
		if err := e.Decode(&payload); err != nil {
			return err
		}
		if payload.Message == nil {
			return nil
		}
		markRead, _ := l.store.ApplyMessage(payload.Message)
		if markRead && l.reads != nil {
			if _, err := l.reads.MarkRead(ctx, payload.Message.Channel); err != nil {
				return fmt.Errorf("mark read: %w", err)
			}
		}
	}
	return nil
}
