package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
	"github.com/capitalize-ai/chat-platform/pkg/metrics"
)

// MessageService handles message operations.
type MessageService struct {
	messages      MessageStore
	conversations *ConversationService
	users         UserDirectory
	notifier      notifier
	cfg           Config
	logger        *logger.Logger
	now           func() time.Time
}

// NewMessageService creates a new message service.
func NewMessageService(
	messages MessageStore,
	conversations *ConversationService,
	users UserDirectory,
	publisher events.Publisher,
	cfg Config,
	log *logger.Logger,
) *MessageService {
	log = logger.OrNop(log).Named("messages")
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &MessageService{
		messages:      messages,
		conversations: conversations,
		users:         users,
		notifier:      notifier{publisher: publisher, logger: log},
		cfg:           cfg,
		logger:        log,
		now:           time.Now,
	}
}

// CreateMessage stores m, refreshes the conversation summary and marks the
// message read for its creator. Only the message write can fail the call.
func (s *MessageService) CreateMessage(ctx context.Context, m *model.Message) (_ *model.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessageService.CreateMessage")
	defer func() { endSpan(span, err) }()

	if m == nil {
		return nil, configErr("message is required")
	}
	if m.Channel == "" {
		return nil, configErr("message channel is required")
	}

	msg := m.Clone()
	if msg.ID == "" {
		msg.ID = model.NewID()
	}
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}
	msg.CreatedAt = s.now().UTC()
	msg.UserMentions = model.ExtractMentions(msg.Text)
	msg.CreatorDetails = nil
	span.SetAttributes(
		attribute.String("conversation.id", msg.Channel),
		attribute.String("message.id", msg.ID))

	if err := s.messages.InsertMessage(ctx, msg); err != nil {
		return nil, &PersistenceError{Op: "create message", Err: err}
	}
	metrics.MessagesTotal.Inc()

	summary := msg.Summary()
	conv, err := s.conversations.conversations.UpdateConversation(ctx, msg.Channel, store.ConversationUpdate{
		LastMessage: &summary,
		IncMessages: 1,
	})
	if err != nil {
		metrics.SummaryUpdateFailures.Inc()
		s.logger.Error("failed to update conversation summary",
			zap.String("conversation_id", msg.Channel),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	} else if msg.Creator != "" {
		if _, err := s.conversations.MarkConversationAsRead(ctx, []string{msg.Creator}, conv); err != nil {
			s.logger.Warn("failed to mark message read for creator",
				zap.String("conversation_id", msg.Channel),
				zap.String("user_id", msg.Creator),
				zap.Error(err))
		}
	}

	s.populateCreators(ctx, []*model.Message{msg})
	s.notifier.publish(ctx, events.MessageCreated, model.MessageCreatedEvent{Message: msg})
	return msg, nil
}

// GetMessages returns messages of the conversation id, oldest first.
func (s *MessageService) GetMessages(ctx context.Context, conversationID string, q model.MessageQuery) ([]*model.Message, error) {
	conv, err := s.conversations.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeErr("get conversation", "conversation", conversationID, err)
	}
	return s.GetConversationMessages(ctx, conv, q)
}

// GetConversationMessages returns messages of conv, oldest first. Moderated
// messages are left out unless q asks for them.
func (s *MessageService) GetConversationMessages(ctx context.Context, conv *model.Conversation, q model.MessageQuery) (_ []*model.Message, err error) {
	if conv == nil {
		return nil, configErr("conversation is required")
	}
	ctx, span := tracer.Start(ctx, "MessageService.GetConversationMessages",
		trace.WithAttributes(attribute.String("conversation.id", conv.ID)))
	defer func() { endSpan(span, err) }()

	limit, offset := s.cfg.page(q.Limit, q.Offset)
	list, err := s.messages.FindMessages(ctx, store.MessageFilter{
		Channel:          conv.ID,
		IncludeModerated: q.IncludeModerated,
		Limit:            limit,
		Offset:           offset,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "get messages", Err: err}
	}

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	if list == nil {
		list = []*model.Message{}
	}
	s.populateCreators(ctx, list)
	return list, nil
}

// ListMessages returns one page of messages across conversations.
func (s *MessageService) ListMessages(ctx context.Context, opts model.ListOptions) (*model.Page[*model.Message], error) {
	limit, offset := s.cfg.page(opts.Limit, opts.Offset)
	opts.Limit, opts.Offset = limit, &offset
	list, total, err := s.messages.ListMessages(ctx, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "list messages", Err: err}
	}
	if list == nil {
		list = []*model.Message{}
	}
	return &model.Page[*model.Message]{TotalCount: total, List: list}, nil
}

// ModerateMessage sets the moderation flag of a message.
func (s *MessageService) ModerateMessage(ctx context.Context, id string, moderate bool) (*model.Message, error) {
	msg, err := s.messages.SetMessageModerate(ctx, id, moderate)
	if err != nil {
		return nil, storeErr("moderate message", "message", id, err)
	}
	return msg, nil
}

func (s *MessageService) populateCreators(ctx context.Context, msgs []*model.Message) {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.Creator)
	}
	found := lookupUsers(ctx, s.users, s.logger, model.Unique(ids))
	for _, m := range msgs {
		if u, ok := found[m.Creator]; ok {
			m.CreatorDetails = &u
		}
	}
}
