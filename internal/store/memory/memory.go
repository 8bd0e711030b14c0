// Package memory is an in-memory document store used by tests and by
// STORE=memory deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
)

// Store keeps conversations, messages and users in maps. Every method
// returns copies so callers never share state with the store.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string]*model.Message
	users         map[string]model.User
	now           func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string]*model.Message),
		users:         make(map[string]model.User),
		now:           time.Now,
	}
}

// InsertConversation stores a new conversation.
func (s *Store) InsertConversation(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[c.ID] = normalize(c.Clone())
	return nil
}

// GetConversation returns the conversation with the given id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c.Clone(), nil
}

// FindConversations returns conversations matching f, most recent message first.
func (s *Store) FindConversations(ctx context.Context, f model.ConversationFilter) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, c := range s.sortedConversations() {
		if store.Matches(c, f) {
			out = append(out, c.Clone())
		}
	}
	store.SortByLastMessage(out)
	return out, nil
}

// ListConversations returns one page of conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, opts model.ListOptions) ([]*model.Conversation, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*model.Conversation
	for _, c := range s.sortedConversations() {
		if opts.Creator == "" || c.Creator == opts.Creator {
			all = append(all, c)
		}
	}
	reverse(all)

	page := paginate(all, opts.Skip(), opts.Limit)
	out := make([]*model.Conversation, len(page))
	for i, c := range page {
		out[i] = c.Clone()
	}
	return out, int64(len(all)), nil
}

// UpdateConversation applies u atomically and returns the updated document.
func (s *Store) UpdateConversation(ctx context.Context, id string, u store.ConversationUpdate) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if u.ExpectVersion != nil && c.Version != *u.ExpectVersion {
		return nil, store.ErrVersionConflict
	}
	store.Apply(c, u, s.now())
	return c.Clone(), nil
}

// EnsureChannel returns the oldest open conversation with c's moderation
// flag, inserting c when there is none.
func (s *Store) EnsureChannel(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sortedConversations() {
		if existing.Type == model.TypeOpen && existing.Moderate == c.Moderate {
			return existing.Clone(), nil
		}
	}
	stored := normalize(c.Clone())
	s.conversations[stored.ID] = stored
	return stored.Clone(), nil
}

// DeleteConversation deletes the conversation only if memberID belongs to it.
func (s *Store) DeleteConversation(ctx context.Context, id, memberID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || !c.HasMember(memberID) {
		return nil, store.ErrNotFound
	}
	delete(s.conversations, id)
	return c.Clone(), nil
}

// InsertMessage stores a new message.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := m.Clone()
	stored.CreatorDetails = nil
	s.messages[m.ID] = stored
	return nil
}

// FindMessages returns messages of one conversation, newest first.
func (s *Store) FindMessages(ctx context.Context, f store.MessageFilter) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*model.Message
	for _, m := range s.sortedMessages() {
		if m.Channel != f.Channel {
			continue
		}
		if m.Moderate && !f.IncludeModerated {
			continue
		}
		all = append(all, m)
	}
	reverse(all)

	page := paginate(all, f.Offset, f.Limit)
	out := make([]*model.Message, len(page))
	for i, m := range page {
		out[i] = m.Clone()
	}
	return out, nil
}

// ListMessages returns one page of messages across conversations, newest first.
func (s *Store) ListMessages(ctx context.Context, opts model.ListOptions) ([]*model.Message, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*model.Message
	for _, m := range s.sortedMessages() {
		if opts.Creator == "" || m.Creator == opts.Creator {
			all = append(all, m)
		}
	}
	reverse(all)

	page := paginate(all, opts.Skip(), opts.Limit)
	out := make([]*model.Message, len(page))
	for i, m := range page {
		out[i] = m.Clone()
	}
	return out, int64(len(all)), nil
}

// SetMessageModerate flips the moderation flag of one message.
func (s *Store) SetMessageModerate(ctx context.Context, id string, moderate bool) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.Moderate = moderate
	return m.Clone(), nil
}

// DeleteMessages removes every message of a conversation.
func (s *Store) DeleteMessages(ctx context.Context, channel string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.messages {
		if m.Channel == channel {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

// PutUser registers a user for lookups.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// LookupUsers returns the known users among ids.
func (s *Store) LookupUsers(ctx context.Context, ids []string) (map[string]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// sortedConversations returns stored conversations oldest first. Caller holds the lock.
func (s *Store) sortedConversations() []*model.Conversation {
	out := make([]*model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// sortedMessages returns stored messages oldest first. Caller holds the lock.
func (s *Store) sortedMessages() []*model.Message {
	out := make([]*model.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func normalize(c *model.Conversation) *model.Conversation {
	c.MemberDetails = nil
	if c.Members == nil {
		c.Members = []string{}
	}
	if c.NumOfReadedMessage == nil {
		c.NumOfReadedMessage = make(map[string]int64)
	}
	return c
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
