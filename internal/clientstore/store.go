// Package clientstore keeps the client-side read model of a chat session:
// the conversations the user sees, which one is open, and per-conversation
// unread and mention counters.
package clientstore

import (
	"sort"
	"sync"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/preview"
)

// Entry is one conversation as seen by the session user.
type Entry struct {
	Conversation *model.Conversation
	Unread       int64
	Mentions     int64
	Preview      string

	lastMessageID string
}

func (e *Entry) clone() Entry {
	out := *e
	out.Conversation = e.Conversation.Clone()
	return out
}

// Store is a thread-safe in-memory read model for one user.
type Store struct {
	mu       sync.RWMutex
	userID   string
	entries  map[string]*Entry
	active   string
	users    map[string]model.User
	renderer *preview.Renderer
}

// New creates an empty store for userID.
func New(userID string) *Store {
	return &Store{
		userID:   userID,
		entries:  make(map[string]*Entry),
		users:    make(map[string]model.User),
		renderer: preview.New(preview.DefaultMaxRunes),
	}
}

// UserID returns the session user.
func (s *Store) UserID() string {
	return s.userID
}

// Add inserts conv, replacing any previous copy. Counters start from the
// conversation's own read counter for the session user.
func (s *Store) Add(conv *model.Conversation) {
	if conv == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rememberLocked(conv.MemberDetails)
	e := &Entry{Conversation: conv.Clone()}
	if conv.ID != s.active {
		e.Unread = conv.UnreadCount(s.userID)
	}
	if prev, ok := s.entries[conv.ID]; ok {
		e.Mentions = prev.Mentions
		e.lastMessageID = prev.lastMessageID
	}
	e.Preview = s.previewLocked(conv.LastMessage.Text)
	s.entries[conv.ID] = e
}

// Update replaces a known conversation and reports whether it was known.
// Counters are kept.
func (s *Store) Update(conv *model.Conversation) bool {
	if conv == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conv.ID]
	if !ok {
		return false
	}
	s.rememberLocked(conv.MemberDetails)
	if !conv.LastMessage.Date.Equal(e.Conversation.LastMessage.Date) || conv.LastMessage.Text != e.Conversation.LastMessage.Text {
		e.Preview = s.previewLocked(conv.LastMessage.Text)
	}
	e.Conversation = conv.Clone()
	return true
}

// Remove drops a conversation and reports whether it was known. Removing
// the active conversation clears the selection.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	if s.active == id {
		s.active = ""
	}
	return true
}

// Get returns a copy of one entry.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// List returns copies of every entry, most recent message first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Conversation, out[j].Conversation
		if !a.LastMessage.Date.Equal(b.LastMessage.Date) {
			return a.LastMessage.Date.After(b.LastMessage.Date)
		}
		return a.ID < b.ID
	})
	return out
}

// SetActive marks id as the open conversation and clears its counters.
// An empty id closes the current one.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = id
	if e, ok := s.entries[id]; ok {
		e.Unread = 0
		e.Mentions = 0
	}
}

// ClearCounters resets the unread and mention counters of a conversation.
func (s *Store) ClearCounters(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.Unread = 0
		e.Mentions = 0
	}
}

// Active returns the open conversation id, if any.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// ApplyMessage folds an inbound message into its conversation. known is
// false when the conversation is not in the store. markRead is true when
// the conversation is open and the server should record the read.
func (s *Store) ApplyMessage(msg *model.Message) (markRead, known bool) {
	if msg == nil {
		return false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[msg.Channel]
	if !ok {
		return false, false
	}
	if msg.ID != "" && msg.ID == e.lastMessageID {
		return false, true
	}
	e.lastMessageID = msg.ID

	conv := e.Conversation
	conv.LastMessage = msg.Summary()
	conv.NumOfMessage++
	if msg.CreatorDetails != nil {
		s.users[msg.CreatorDetails.ID] = *msg.CreatorDetails
	}
	e.Preview = s.previewLocked(msg.Text)

	if msg.Channel == s.active {
		e.Unread = 0
		e.Mentions = 0
		return true, true
	}
	if msg.Creator != s.userID {
		e.Unread++
		if msg.MentionsUser(s.userID) {
			e.Mentions++
		}
	}
	return false, true
}

// SetTopic updates the topic of a known conversation.
func (s *Store) SetTopic(conversationID string, topic model.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		return false
	}
	e.Conversation.Topic = topic
	return true
}

// RememberUsers records profiles used to render mentions.
func (s *Store) RememberUsers(users ...model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rememberLocked(users)
}

func (s *Store) rememberLocked(users []model.User) {
	for _, u := range users {
		if u.ID != "" {
			s.users[u.ID] = u
		}
	}
}

func (s *Store) previewLocked(text string) string {
	if text == "" {
		return ""
	}
	return s.renderer.Render(text, preview.UserNames(s.users))
}
