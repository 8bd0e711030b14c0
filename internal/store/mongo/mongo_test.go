package mongo

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/store"
)

// connectTest connects to MONGO_TEST_URI using a throwaway database.
func connectTest(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Connect(ctx, Config{URI: uri, Database: "chat_test_" + model.NewID()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func newConversation(members ...string) *model.Conversation {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Conversation{
		ID:                 model.NewID(),
		Type:               model.TypeConfidential,
		Members:            members,
		LastMessage:        model.LastMessage{Date: now, UserMentions: []string{}},
		NumOfReadedMessage: map[string]int64{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestMongoConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := connectTest(t)
	a, b, c := model.NewID(), model.NewID(), model.NewID()

	conv := newConversation(a, b)
	require.NoError(t, s.InsertConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, got.Members)
	assert.Nil(t, got.Name)

	version := got.Version
	updated, err := s.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{
		Members:       []string{a, c},
		ReadCounters:  map[string]int64{c: 0},
		ExpectVersion: &version,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a, c}, updated.Members)
	assert.Equal(t, version+1, updated.Version)

	_, err = s.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{IncMessages: 1, ExpectVersion: &version})
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	found, err := s.FindConversations(ctx, model.ConversationFilter{Members: []string{a, c}, ExactMembersMatch: true})
	require.NoError(t, err)
	require.Len(t, found, 1)

	_, err = s.DeleteConversation(ctx, conv.ID, b)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.DeleteConversation(ctx, conv.ID, a)
	require.NoError(t, err)
}

func TestMongoReadCountersNeverRegress(t *testing.T) {
	ctx := context.Background()
	s := connectTest(t)
	a := model.NewID()

	conv := newConversation(a)
	require.NoError(t, s.InsertConversation(ctx, conv))

	_, err := s.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{ReadCounters: map[string]int64{a: 5}})
	require.NoError(t, err)
	got, err := s.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{ReadCounters: map[string]int64{a: 2}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.NumOfReadedMessage[a])
}

func TestMongoEnsureChannel(t *testing.T) {
	ctx := context.Background()
	s := connectTest(t)

	first := newConversation()
	first.Type = model.TypeOpen
	got, err := s.EnsureChannel(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	second := newConversation()
	second.Type = model.TypeOpen
	got, err = s.EnsureChannel(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestMongoEnsureChannelConcurrentFirstCalls(t *testing.T) {
	ctx := context.Background()
	s := connectTest(t)

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newConversation()
			c.Type = model.TypeOpen
			got, err := s.EnsureChannel(ctx, c)
			if assert.NoError(t, err) {
				ids[i] = got.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	moderate := false
	open, err := s.FindConversations(ctx, model.ConversationFilter{Types: []model.ConversationType{model.TypeOpen}, Moderate: &moderate})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMongoMessages(t *testing.T) {
	ctx := context.Background()
	s := connectTest(t)
	channel, creator := model.NewID(), model.NewID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.InsertMessage(ctx, &model.Message{
			ID:           model.NewID(),
			Channel:      channel,
			Creator:      creator,
			Text:         text,
			Type:         model.MessageTypeText,
			UserMentions: []string{},
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.FindMessages(ctx, store.MessageFilter{Channel: channel, Limit: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Text)

	moderated, err := s.SetMessageModerate(ctx, msgs[0].ID, true)
	require.NoError(t, err)
	assert.True(t, moderated.Moderate)

	msgs, err = s.FindMessages(ctx, store.MessageFilter{Channel: channel})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	n, err := s.DeleteMessages(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
