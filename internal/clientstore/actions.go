package clientstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

// API is the remote operation set the actions proxy. apiclient.Client
// implements it over HTTP.
type API interface {
	GetChannels(ctx context.Context, opts model.ChannelOptions) ([]*model.Conversation, error)
	ListConversations(ctx context.Context, opts model.ListOptions) (*model.Page[*model.Conversation], error)
	FindConversation(ctx context.Context, filter model.ConversationFilter) ([]*model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, req model.CreateConversationRequest) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, mods model.Modifications) (*model.Conversation, error)
	UpdateCommunityConversation(ctx context.Context, communityID string, mods model.Modifications) (*model.Conversation, error)
	AddMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	RemoveMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	UpdateTopic(ctx context.Context, conversationID, value string) (*model.Conversation, error)
	MarkRead(ctx context.Context, conversationID string, userIDs ...string) (*model.Conversation, error)
	ModerateConversation(ctx context.Context, id string, moderate bool) (*model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string, q model.MessageQuery) ([]*model.Message, error)
	SendMessage(ctx context.Context, conversationID string, req model.SendMessageRequest) (*model.Message, error)
	ListMessages(ctx context.Context, opts model.ListOptions) (*model.Page[*model.Message], error)
	ModerateMessage(ctx context.Context, id string, moderate bool) (*model.Message, error)
}

// Actions runs remote operations and mirrors their results into a Store.
type Actions struct {
	api    API
	store  *Store
	logger *logger.Logger
}

// NewActions binds api to store.
func NewActions(api API, store *Store, log *logger.Logger) *Actions {
	return &Actions{
		api:    api,
		store:  store,
		logger: logger.OrNop(log).Named("actions").With(zap.String("user_id", store.UserID())),
	}
}

// Store returns the mirrored read model.
func (a *Actions) Store() *Store {
	return a.store
}

// LoadConversations fetches every conversation the user belongs to.
func (a *Actions) LoadConversations(ctx context.Context) ([]*model.Conversation, error) {
	convs, err := a.api.FindConversation(ctx, model.ConversationFilter{
		Members: []string{a.store.UserID()},
	})
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	for _, c := range convs {
		a.store.Add(c)
	}
	return convs, nil
}

// LoadChannels lists channels. Only the ones the user already joined are
// mirrored; the rest must be joined explicitly.
func (a *Actions) LoadChannels(ctx context.Context, moderate bool) ([]*model.Conversation, error) {
	channels, err := a.api.GetChannels(ctx, model.ChannelOptions{Moderate: moderate})
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}
	for _, c := range channels {
		if c.HasMember(a.store.UserID()) {
			a.store.Add(c)
		}
	}
	return channels, nil
}

// Open makes a conversation active, records the read on the server when
// there is anything unread, and returns its latest messages oldest first.
func (a *Actions) Open(ctx context.Context, conversationID string, q model.MessageQuery) ([]*model.Message, error) {
	entry, ok := a.store.Get(conversationID)
	if !ok {
		conv, err := a.api.GetConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("open conversation: %w", err)
		}
		a.store.Add(conv)
		entry, _ = a.store.Get(conversationID)
	}
	a.store.SetActive(conversationID)

	if entry.Unread > 0 || entry.Conversation.UnreadCount(a.store.UserID()) > 0 {
		a.markRead(ctx, conversationID)
	}

	msgs, err := a.api.GetMessages(ctx, conversationID, q)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	a.rememberCreators(msgs)
	return msgs, nil
}

// Close clears the active conversation.
func (a *Actions) Close() {
	a.store.SetActive("")
}

// Create creates a conversation and adds it to the store.
func (a *Actions) Create(ctx context.Context, req model.CreateConversationRequest) (*model.Conversation, error) {
	conv, err := a.api.CreateConversation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	a.store.Add(conv)
	return conv, nil
}

// Update applies mods. When the user removed themselves the conversation
// leaves the store.
func (a *Actions) Update(ctx context.Context, conversationID string, mods model.Modifications) (*model.Conversation, error) {
	conv, err := a.api.UpdateConversation(ctx, conversationID, mods)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	a.mirror(conv)
	return conv, nil
}

// UpdateCommunity applies mods to a community conversation.
func (a *Actions) UpdateCommunity(ctx context.Context, communityID string, mods model.Modifications) (*model.Conversation, error) {
	conv, err := a.api.UpdateCommunityConversation(ctx, communityID, mods)
	if err != nil {
		return nil, fmt.Errorf("update community conversation: %w", err)
	}
	a.mirror(conv)
	return conv, nil
}

// Join adds the session user to a conversation.
func (a *Actions) Join(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := a.api.AddMember(ctx, conversationID, a.store.UserID())
	if err != nil {
		return nil, fmt.Errorf("join conversation: %w", err)
	}
	a.store.Add(conv)
	return conv, nil
}

// Leave removes the session user from a conversation.
func (a *Actions) Leave(ctx context.Context, conversationID string) error {
	if _, err := a.api.RemoveMember(ctx, conversationID, a.store.UserID()); err != nil {
		return fmt.Errorf("leave conversation: %w", err)
	}
	a.store.Remove(conversationID)
	return nil
}

// AddMember adds another user to a conversation.
func (a *Actions) AddMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := a.api.AddMember(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	a.mirror(conv)
	return conv, nil
}

// RemoveMember removes another user from a conversation.
func (a *Actions) RemoveMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := a.api.RemoveMember(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("remove member: %w", err)
	}
	a.mirror(conv)
	return conv, nil
}

// Delete deletes a conversation. A conversation the user does not belong
// to is left alone by the server and still dropped locally.
func (a *Actions) Delete(ctx context.Context, conversationID string) error {
	if err := a.api.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	a.store.Remove(conversationID)
	return nil
}

// SetTopic changes the topic of a conversation.
func (a *Actions) SetTopic(ctx context.Context, conversationID, value string) (*model.Conversation, error) {
	conv, err := a.api.UpdateTopic(ctx, conversationID, value)
	if err != nil {
		return nil, fmt.Errorf("set topic: %w", err)
	}
	a.mirror(conv)
	return conv, nil
}

// Send posts a message and folds it into the store.
func (a *Actions) Send(ctx context.Context, conversationID, text string) (*model.Message, error) {
	msg, err := a.api.SendMessage(ctx, conversationID, model.SendMessageRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	a.store.ApplyMessage(msg)
	return msg, nil
}

// MarkRead records that the user read everything in a conversation.
func (a *Actions) MarkRead(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := a.api.MarkRead(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	a.store.Update(conv)
	a.store.ClearCounters(conversationID)
	return conv, nil
}

// Messages pages through a conversation's history.
func (a *Actions) Messages(ctx context.Context, conversationID string, q model.MessageQuery) ([]*model.Message, error) {
	msgs, err := a.api.GetMessages(ctx, conversationID, q)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	a.rememberCreators(msgs)
	return msgs, nil
}

// ModerateConversation flips the moderation flag of a conversation.
func (a *Actions) ModerateConversation(ctx context.Context, conversationID string, moderate bool) (*model.Conversation, error) {
	conv, err := a.api.ModerateConversation(ctx, conversationID, moderate)
	if err != nil {
		return nil, fmt.Errorf("moderate conversation: %w", err)
	}
	a.store.Update(conv)
	return conv, nil
}

// ModerateMessage flips the moderation flag of a message.
func (a *Actions) ModerateMessage(ctx context.Context, messageID string, moderate bool) (*model.Message, error) {
	msg, err := a.api.ModerateMessage(ctx, messageID, moderate)
	if err != nil {
		return nil, fmt.Errorf("moderate message: %w", err)
	}
	return msg, nil
}

// mirror updates a known conversation, dropping it if the user is no
// longer a member of a non-open conversation.
func (a *Actions) mirror(conv *model.Conversation) {
	if conv.Type != model.TypeOpen && !conv.HasMember(a.store.UserID()) {
		a.store.Remove(conv.ID)
		return
	}
	if !a.store.Update(conv) && conv.HasMember(a.store.UserID()) {
		a.store.Add(conv)
	}
}

func (a *Actions) markRead(ctx context.Context, conversationID string) {
	if _, err := a.MarkRead(ctx, conversationID); err != nil {
		a.logger.Warn("failed to mark conversation read",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

// rememberCreators keeps the authors of fetched messages for mention
// rendering; they need not be members anymore.
func (a *Actions) rememberCreators(msgs []*model.Message) {
	users := make([]model.User, 0, len(msgs))
	for _, m := range msgs {
		if m.CreatorDetails != nil {
			users = append(users, *m.CreatorDetails)
		}
	}
	a.store.RememberUsers(users...)
}
