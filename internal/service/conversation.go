package service

import (
	"context"
	"errors"
	"sync"
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

// ConversationService handles conversation operations.
type ConversationService struct {
	conversations ConversationStore
	messages      MessageStore
	users         UserDirectory
	notifier      notifier
	cfg           Config
	logger        *logger.Logger
	now           func() time.Time

	// background read-counter backfills
	wg sync.WaitGroup
}

// NewConversationService creates a new conversation service. users and
// publisher may be nil.
func NewConversationService(
	conversations ConversationStore,
	messages MessageStore,
	users UserDirectory,
	publisher events.Publisher,
	cfg Config,
	log *logger.Logger,
) *ConversationService {
	log = logger.OrNop(log).Named("conversations")
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if cfg.MemberUpdateRetries < 0 {
		cfg.MemberUpdateRetries = 0
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		users:         users,
		notifier:      notifier{publisher: publisher, logger: log},
		cfg:           cfg,
		logger:        log,
		now:           time.Now,
	}
}

// Wait blocks until background read-counter updates have finished.
func (s *ConversationService) Wait() {
	s.wg.Wait()
}

// CreateConversation persists a new conversation.
func (s *ConversationService) CreateConversation(ctx context.Context, c *model.Conversation) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.CreateConversation")
	defer func() { endSpan(span, err) }()

	if c == nil {
		return nil, configErr("conversation is required")
	}
	if !c.Type.Valid() {
		return nil, configErr("unknown conversation type %q", c.Type)
	}

	now := s.now().UTC()
	conv := c.Clone()
	if conv.ID == "" {
		conv.ID = model.NewID()
	}
	conv.Members = model.Unique(conv.Members)
	conv.LastMessage = model.LastMessage{Date: now, UserMentions: []string{}}
	conv.NumOfMessage = 0
	conv.NumOfReadedMessage = map[string]int64{}
	conv.Version = 0
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.MemberDetails = nil

	if err := s.conversations.InsertConversation(ctx, conv); err != nil {
		return nil, &PersistenceError{Op: "create conversation", Err: err}
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID), attribute.String("conversation.type", string(conv.Type)))
	metrics.ConversationsTotal.WithLabelValues(string(conv.Type)).Inc()

	s.populateMembers(ctx, conv)
	s.notifier.publish(ctx, events.ConversationCreated, conv)

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.Int("members", len(conv.Members)))
	return conv, nil
}

// GetConversation returns one conversation with its member profiles.
func (s *ConversationService) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, storeErr("get conversation", "conversation", id, err)
	}
	s.populateMembers(ctx, conv)
	return conv, nil
}

// FindConversation returns conversations matching f, most recently active first.
func (s *ConversationService) FindConversation(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, error) {
	if len(f.Members) == 0 {
		if f.ExactMembersMatch {
			return nil, configErr("exactMembersMatch requires a members filter")
		}
		if f.IgnoreMemberFilterForChannel {
			return nil, configErr("ignoreMemberFilterForChannel requires a members filter")
		}
	}
	for _, t := range f.Types {
		if !t.Valid() {
			return nil, configErr("unknown conversation type %q", t)
		}
	}
	if f.NameFilter == model.NameEquals && f.Name == "" {
		return nil, configErr("name filter requires a name")
	}

	f.Members = model.Unique(f.Members)
	convs, err := s.conversations.FindConversations(ctx, f)
	if err != nil {
		return nil, &PersistenceError{Op: "find conversations", Err: err}
	}
	store.SortByLastMessage(convs)
	return convs, nil
}

// ListConversations returns one page of conversations.
func (s *ConversationService) ListConversations(ctx context.Context, opts model.ListOptions) (*model.Page[*model.Conversation], error) {
	limit, offset := s.cfg.page(opts.Limit, opts.Offset)
	opts.Limit, opts.Offset = limit, &offset
	list, total, err := s.conversations.ListConversations(ctx, opts)
	if err != nil {
		return nil, &PersistenceError{Op: "list conversations", Err: err}
	}
	if list == nil {
		list = []*model.Conversation{}
	}
	return &model.Page[*model.Conversation]{TotalCount: total, List: list}, nil
}

// GetChannels returns every open conversation with the requested moderation
// flag, creating the default channel when there is none.
func (s *ConversationService) GetChannels(ctx context.Context, opts model.ChannelOptions) (_ []*model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.GetChannels")
	defer func() { endSpan(span, err) }()

	moderate := opts.Moderate
	channels, err := s.conversations.FindConversations(ctx, model.ConversationFilter{
		Types:    []model.ConversationType{model.TypeOpen},
		Moderate: &moderate,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "find channels", Err: err}
	}
	if len(channels) > 0 {
		store.SortByLastMessage(channels)
		return channels, nil
	}

	now := s.now().UTC()
	name := s.cfg.DefaultChannelName
	candidate := &model.Conversation{
		ID:                 model.NewID(),
		Type:               model.TypeOpen,
		Name:               &name,
		Moderate:           moderate,
		Members:            []string{},
		LastMessage:        model.LastMessage{Date: now, UserMentions: []string{}},
		NumOfReadedMessage: map[string]int64{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	channel, err := s.conversations.EnsureChannel(ctx, candidate)
	if err != nil {
		return nil, &PersistenceError{Op: "create default channel", Err: err}
	}
	if channel.ID == candidate.ID {
		metrics.DefaultChannelBootstraps.Inc()
		metrics.ConversationsTotal.WithLabelValues(string(model.TypeOpen)).Inc()
		s.notifier.publish(ctx, events.ConversationCreated, channel)
		s.logger.Info("default channel created",
			zap.String("conversation_id", channel.ID),
			zap.Bool("moderate", moderate))
	}
	return []*model.Conversation{channel}, nil
}

// UpdateConversation applies mods to the conversation id.
func (s *ConversationService) UpdateConversation(ctx context.Context, id string, mods model.Modifications) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.UpdateConversation",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer func() { endSpan(span, err) }()

	return s.modify(ctx, id, mods)
}

// UpdateCommunityConversation applies mods to the conversation of a community.
func (s *ConversationService) UpdateCommunityConversation(ctx context.Context, communityID string, mods model.Modifications) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.UpdateCommunityConversation",
		trace.WithAttributes(attribute.String("community.id", communityID)))
	defer func() { endSpan(span, err) }()

	if communityID == "" {
		return nil, configErr("community id is required")
	}
	convs, err := s.conversations.FindConversations(ctx, model.ConversationFilter{CommunityID: communityID})
	if err != nil {
		return nil, &PersistenceError{Op: "find community conversation", Err: err}
	}
	if len(convs) == 0 {
		return nil, &NotFoundError{Resource: "community conversation", ID: communityID}
	}
	return s.modify(ctx, convs[0].ID, mods)
}

// modify rewrites membership and profile fields in one versioned write,
// retrying when another writer got there first.
func (s *ConversationService) modify(ctx context.Context, id string, mods model.Modifications) (*model.Conversation, error) {
	if mods.Name != nil && mods.ClearName {
		return nil, configErr("name and clearName are mutually exclusive")
	}

	log := s.logger.WithConversation(id)
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MemberUpdateRetries; attempt++ {
		current, err := s.conversations.GetConversation(ctx, id)
		if err != nil {
			return nil, storeErr("get conversation", "conversation", id, err)
		}
		if mods.Empty() {
			return current, nil
		}

		update, deleted := membershipUpdate(current, mods)
		version := current.Version
		update.ExpectVersion = &version

		updated, err := s.conversations.UpdateConversation(ctx, id, update)
		if errors.Is(err, store.ErrVersionConflict) {
			metrics.VersionConflictsTotal.Inc()
			lastErr = err
			log.Debug("conversation changed concurrently, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, storeErr("update conversation", "conversation", id, err)
		}

		s.populateMembers(ctx, updated)
		s.notifier.publish(ctx, events.ConversationUpdated, model.ConversationUpdatedEvent{
			Conversation:   updated,
			DeletedMembers: deleted,
		})
		return updated, nil
	}

	log.Warn("giving up on conversation update", zap.Int("retries", s.cfg.MemberUpdateRetries))
	return nil, &PersistenceError{Op: "update conversation", Err: lastErr}
}

// membershipUpdate computes the write for mods against current. New members
// start with every existing message read; removed members lose their counter.
func membershipUpdate(current *model.Conversation, mods model.Modifications) (store.ConversationUpdate, []string) {
	u := store.ConversationUpdate{
		Name:      mods.Name,
		ClearName: mods.ClearName,
		Avatar:    mods.Avatar,
	}

	deleted := model.Unique(mods.DeleteMembers)
	if len(mods.NewMembers) == 0 && len(deleted) == 0 {
		return u, []string{}
	}

	removing := make(map[string]struct{}, len(deleted))
	for _, m := range deleted {
		removing[m] = struct{}{}
	}

	members := make([]string, 0, len(current.Members)+len(mods.NewMembers))
	for _, m := range model.Unique(append(append([]string{}, current.Members...), mods.NewMembers...)) {
		if _, ok := removing[m]; !ok {
			members = append(members, m)
		}
	}
	u.Members = members

	for _, m := range members {
		if !current.HasMember(m) {
			if u.ReadCounters == nil {
				u.ReadCounters = make(map[string]int64)
			}
			u.ReadCounters[m] = current.NumOfMessage
		}
	}
	u.ClearReadCounters = deleted
	return u, deleted
}

// AddMemberToConversation adds userID to the conversation. The member's
// read counter is backfilled in the background.
func (s *ConversationService) AddMemberToConversation(ctx context.Context, conversationID, userID string) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.AddMemberToConversation",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, configErr("user id is required")
	}
	updated, err := s.conversations.UpdateConversation(ctx, conversationID, store.ConversationUpdate{
		AddMembers: []string{userID},
	})
	if err != nil {
		return nil, storeErr("add member", "conversation", conversationID, err)
	}

	if _, ok := updated.NumOfReadedMessage[userID]; !ok {
		s.backfillReadCounter(ctx, conversationID, userID, updated.NumOfMessage)
		// Report the counter the backfill is writing.
		if updated.NumOfReadedMessage == nil {
			updated.NumOfReadedMessage = make(map[string]int64)
		}
		updated.NumOfReadedMessage[userID] = updated.NumOfMessage
	}

	s.notifier.publish(ctx, events.MemberAdded, model.MemberAddedEvent{
		Conversation: updated,
		MemberID:     userID,
	})
	return updated, nil
}

func (s *ConversationService) backfillReadCounter(ctx context.Context, conversationID, userID string, count int64) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.conversations.UpdateConversation(ctx, conversationID, store.ConversationUpdate{
			ReadCounters: map[string]int64{userID: count},
		})
		if err != nil {
			s.logger.Warn("failed to backfill read counter",
				zap.String("conversation_id", conversationID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}()
}

// RemoveMemberFromConversation removes userID and its read counter.
func (s *ConversationService) RemoveMemberFromConversation(ctx context.Context, conversationID, userID string) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.RemoveMemberFromConversation",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	if userID == "" {
		return nil, configErr("user id is required")
	}
	updated, err := s.conversations.UpdateConversation(ctx, conversationID, store.ConversationUpdate{
		RemoveMembers:     []string{userID},
		ClearReadCounters: []string{userID},
	})
	if err != nil {
		return nil, storeErr("remove member", "conversation", conversationID, err)
	}

	s.notifier.publish(ctx, events.ConversationUpdated, model.ConversationUpdatedEvent{
		Conversation:   updated,
		DeletedMembers: []string{userID},
	})
	return updated, nil
}

// DeleteConversation deletes the conversation and its messages if userID is
// a member. It returns nil, nil when there was nothing to delete.
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.DeleteConversation",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	log := s.logger.WithConversation(conversationID)
	deleted, err := s.conversations.DeleteConversation(ctx, conversationID, userID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("nothing to delete", zap.String("user_id", userID))
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "delete conversation", Err: err}
	}

	n, err := s.messages.DeleteMessages(ctx, conversationID)
	if err != nil {
		log.Error("failed to delete conversation messages", zap.Error(err))
		return nil, &PersistenceError{Op: "delete conversation messages", Err: err}
	}

	s.notifier.publish(ctx, events.ConversationDeleted, deleted)
	log.Info("conversation deleted",
		zap.String("user_id", userID),
		zap.Int64("messages", n))
	return deleted, nil
}

// UpdateTopic sets the topic and announces it with a system message built
// from the stored document.
func (s *ConversationService) UpdateTopic(ctx context.Context, conversationID string, topic model.Topic) (_ *model.Conversation, err error) {
	ctx, span := tracer.Start(ctx, "ConversationService.UpdateTopic",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer func() { endSpan(span, err) }()

	topic.LastSet = s.now().UTC()
	updated, err := s.conversations.UpdateConversation(ctx, conversationID, store.ConversationUpdate{Topic: &topic})
	if err != nil {
		return nil, storeErr("update topic", "conversation", conversationID, err)
	}

	stored := updated.Topic
	announcement := &model.Message{
		ID:           model.NewID(),
		Channel:      updated.ID,
		Creator:      stored.Creator,
		Text:         stored.Value,
		Type:         model.MessageTypeSystem,
		UserMentions: []string{},
		Moderate:     updated.Moderate,
		CreatedAt:    stored.LastSet,
		SystemEvent:  model.SystemEventTopicUpdated,
		Topic:        &stored,
	}
	s.notifier.publish(ctx, events.TopicUpdated, model.TopicUpdatedEvent{
		Conversation: updated,
		Message:      announcement,
	})
	return updated, nil
}

// MarkAllMessagesAsRead marks every message of the conversation read for userIDs.
func (s *ConversationService) MarkAllMessagesAsRead(ctx context.Context, userIDs []string, conversationID string) (*model.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeErr("get conversation", "conversation", conversationID, err)
	}
	return s.MarkConversationAsRead(ctx, userIDs, conv)
}

// MarkConversationAsRead raises the read counters of userIDs to the message
// count of conv. Counters never go down.
func (s *ConversationService) MarkConversationAsRead(ctx context.Context, userIDs []string, conv *model.Conversation) (*model.Conversation, error) {
	if conv == nil {
		return nil, configErr("conversation is required")
	}
	users := model.Unique(userIDs)
	if len(users) == 0 {
		return nil, configErr("at least one user id is required")
	}

	counters := make(map[string]int64, len(users))
	for _, u := range users {
		counters[u] = conv.NumOfMessage
	}
	updated, err := s.conversations.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{ReadCounters: counters})
	if err != nil {
		return nil, storeErr("mark conversation read", "conversation", conv.ID, err)
	}
	return updated, nil
}

// ModerateConversation sets the moderation flag of a conversation.
func (s *ConversationService) ModerateConversation(ctx context.Context, id string, moderate bool) (*model.Conversation, error) {
	updated, err := s.conversations.UpdateConversation(ctx, id, store.ConversationUpdate{Moderate: &moderate})
	if err != nil {
		return nil, storeErr("moderate conversation", "conversation", id, err)
	}
	s.notifier.publish(ctx, events.ConversationUpdated, model.ConversationUpdatedEvent{
		Conversation:   updated,
		DeletedMembers: []string{},
	})
	return updated, nil
}

func (s *ConversationService) populateMembers(ctx context.Context, conv *model.Conversation) {
	found := lookupUsers(ctx, s.users, s.logger, conv.Members)
	if len(found) == 0 {
		return
	}
	details := make([]model.User, 0, len(found))
	for _, id := range conv.Members {
		if u, ok := found[id]; ok {
			details = append(details, u)
		}
	}
	conv.MemberDetails = details
}
