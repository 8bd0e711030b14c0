// Package service provides business logic for the chat platform.
package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
	"github.com/capitalize-ai/chat-platform/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/chat-platform/internal/service")

// ConversationStore persists conversation documents.
type ConversationStore interface {
	InsertConversation(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindConversations(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, error)
	ListConversations(ctx context.Context, opts model.ListOptions) ([]*model.Conversation, int64, error)
	UpdateConversation(ctx context.Context, id string, u store.ConversationUpdate) (*model.Conversation, error)
	EnsureChannel(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id, memberID string) (*model.Conversation, error)
}

// MessageStore persists message documents.
type MessageStore interface {
	InsertMessage(ctx context.Context, m *model.Message) error
	FindMessages(ctx context.Context, f store.MessageFilter) ([]*model.Message, error)
	ListMessages(ctx context.Context, opts model.ListOptions) ([]*model.Message, int64, error)
	SetMessageModerate(ctx context.Context, id string, moderate bool) (*model.Message, error)
	DeleteMessages(ctx context.Context, channel string) (int64, error)
}

// UserDirectory resolves user ids to profiles.
type UserDirectory interface {
	LookupUsers(ctx context.Context, ids []string) (map[string]model.User, error)
}

// Config holds service defaults.
type Config struct {
	DefaultLimit        int
	DefaultOffset       int
	DefaultChannelName  string
	MemberUpdateRetries int
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:        20,
		DefaultOffset:       0,
		DefaultChannelName:  "general",
		MemberUpdateRetries: 5,
	}
}

// page resolves paging: a non-positive limit and an unset or negative
// offset take the configured defaults. An explicit zero offset is kept.
func (c Config) page(limit int, offset *int) (int, int) {
	if limit <= 0 {
		limit = c.DefaultLimit
	}
	if offset == nil || *offset < 0 {
		return limit, c.DefaultOffset
	}
	return limit, *offset
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *events.Event) error { return nil }

// notifier publishes events without ever failing the caller.
type notifier struct {
	publisher events.Publisher
	logger    *logger.Logger
}

func (n notifier) publish(ctx context.Context, topic events.Topic, payload any) {
	e, err := events.New(topic, payload)
	if err == nil {
		err = n.publisher.Publish(ctx, e)
	}
	metrics.RecordPublish(string(topic), err)
	if err != nil {
		n.logger.Warn("failed to publish event", zap.String("topic", string(topic)), zap.Error(err))
	}
}

// lookupUsers is best-effort; failures are logged and yield no profiles.
func lookupUsers(ctx context.Context, users UserDirectory, log *logger.Logger, ids []string) map[string]model.User {
	if users == nil || len(ids) == 0 {
		return nil
	}
	found, err := users.LookupUsers(ctx, ids)
	if err != nil {
		log.Warn("failed to look up users", zap.Int("count", len(ids)), zap.Error(err))
		return nil
	}
	return found
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
