package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
)

func insert(t *testing.T, s *Store, c *model.Conversation) *model.Conversation {
	t.Helper()
	if c.ID == "" {
		c.ID = model.NewID()
	}
	require.NoError(t, s.InsertConversation(context.Background(), c))
	return c
}

func TestConversationsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := insert(t, s, &model.Conversation{Type: model.TypeConfidential, Members: []string{"a"}})

	c.Members[0] = "mutated"
	got, err := s.GetConversation(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Members)

	got.Members[0] = "mutated"
	again, _ := s.GetConversation(ctx, c.ID)
	assert.Equal(t, []string{"a"}, again.Members)
}

func TestGetConversationNotFound(t *testing.T) {
	_, err := New().GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateConversationVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := insert(t, s, &model.Conversation{Type: model.TypeConfidential})

	v := int64(0)
	updated, err := s.UpdateConversation(ctx, c.ID, store.ConversationUpdate{IncMessages: 1, ExpectVersion: &v})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, int64(1), updated.NumOfMessage)

	_, err = s.UpdateConversation(ctx, c.ID, store.ConversationUpdate{IncMessages: 1, ExpectVersion: &v})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	_, err = s.UpdateConversation(ctx, "missing", store.ConversationUpdate{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureChannelInsertsOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	name := "general"

	first, err := s.EnsureChannel(ctx, &model.Conversation{ID: model.NewID(), Type: model.TypeOpen, Name: &name})
	require.NoError(t, err)
	second, err := s.EnsureChannel(ctx, &model.Conversation{ID: model.NewID(), Type: model.TypeOpen, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	moderated, err := s.EnsureChannel(ctx, &model.Conversation{ID: model.NewID(), Type: model.TypeOpen, Moderate: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, moderated.ID)
}

func TestDeleteConversationRequiresMembership(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := insert(t, s, &model.Conversation{Type: model.TypeConfidential, Members: []string{"a"}})

	_, err := s.DeleteConversation(ctx, c.ID, "b")
	assert.ErrorIs(t, err, store.ErrNotFound)

	deleted, err := s.DeleteConversation(ctx, c.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, c.ID, deleted.ID)

	_, err = s.GetConversation(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListConversationsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	var ids []string
	for i := 0; i < 3; i++ {
		c := insert(t, s, &model.Conversation{Type: model.TypeOpen, Creator: "a", CreatedAt: base.Add(time.Duration(i) * time.Second)})
		ids = append(ids, c.ID)
	}
	insert(t, s, &model.Conversation{Type: model.TypeOpen, Creator: "b", CreatedAt: base.Add(time.Hour)})

	page, total, err := s.ListConversations(ctx, model.ListOptions{Creator: "a", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	offset := 2
	page, _, err = s.ListConversations(ctx, model.ListOptions{Creator: "a", Offset: &offset, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	for i, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.InsertMessage(ctx, &model.Message{
			ID:        model.NewID(),
			Channel:   "c1",
			Creator:   "a",
			Text:      text,
			Moderate:  text == "two",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.InsertMessage(ctx, &model.Message{ID: model.NewID(), Channel: "c2", Creator: "b", Text: "other", CreatedAt: base}))

	msgs, err := s.FindMessages(ctx, store.MessageFilter{Channel: "c1"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "one", msgs[1].Text)

	msgs, err = s.FindMessages(ctx, store.MessageFilter{Channel: "c1", IncludeModerated: true, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].Text)

	_, total, err := s.ListMessages(ctx, model.ListOptions{Creator: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	n, err := s.DeleteMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSetMessageModerate(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := model.NewID()
	require.NoError(t, s.InsertMessage(ctx, &model.Message{ID: id, Channel: "c1"}))

	m, err := s.SetMessageModerate(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, m.Moderate)

	_, err = s.SetMessageModerate(ctx, "missing", true)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLookupUsers(t *testing.T) {
	s := New()
	s.PutUser(model.User{ID: "a", Username: "ann"})

	users, err := s.LookupUsers(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, "ann", users["a"].Username)
}
