package apiclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-platform/internal/clientstore"
	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/handler"
	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/internal/store/memory"
)

const (
	secret = "client-secret"
	alice  = "aaaaaaaaaaaaaaaaaaaaaaaa"
	bob    = "bbbbbbbbbbbbbbbbbbbbbbbb"
)

var _ clientstore.API = (*Client)(nil)
var _ events.Subscriber = (*Client)(nil)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := memory.New()
	bus := events.NewMemoryBus(nil)
	cfg := service.DefaultConfig()
	convs := service.NewConversationService(st, st, st, bus, cfg, nil)
	msgs := service.NewMessageService(st, convs, st, bus, cfg, nil)

	srv := httptest.NewServer(handler.NewRouter(handler.RouterConfig{JWTSecret: secret}, handler.Dependencies{
		Conversations: convs,
		Messages:      msgs,
		Events:        bus,
	}, nil))
	t.Cleanup(func() {
		srv.CloseClientConnections()
		srv.Close()
		bus.Close()
		convs.Wait()
	})
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, userID string) *Client {
	t.Helper()
	tok, err := middleware.IssueToken(secret, userID, nil, time.Hour)
	require.NoError(t, err)
	return New(srv.URL, tok, WithHTTPClient(srv.Client()))
}

func TestConversationRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := newClient(t, srv, alice)

	conv, err := c.CreateConversation(ctx, model.CreateConversationRequest{Type: model.TypeConfidential, Members: []string{bob}})
	require.NoError(t, err)
	assert.Equal(t, []string{alice, bob}, conv.Members)

	got, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	found, err := c.FindConversation(ctx, model.ConversationFilter{Members: []string{alice, bob}, ExactMembersMatch: true})
	require.NoError(t, err)
	require.Len(t, found, 1)

	page, err := c.ListConversations(ctx, model.ListOptions{Creator: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.TotalCount)

	withTopic, err := c.UpdateTopic(ctx, conv.ID, "q3")
	require.NoError(t, err)
	assert.Equal(t, "q3", withTopic.Topic.Value)

	name := "pair"
	renamed, err := c.UpdateConversation(ctx, conv.ID, model.Modifications{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, renamed.Name)
	assert.Equal(t, "pair", *renamed.Name)

	require.NoError(t, c.DeleteConversation(ctx, conv.ID))
	_, err = c.GetConversation(ctx, conv.ID)
	assert.True(t, IsNotFound(err))
}

func TestMessagesAndReads(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	a := newClient(t, srv, alice)
	b := newClient(t, srv, bob)

	conv, err := a.CreateConversation(ctx, model.CreateConversationRequest{Type: model.TypeConfidential, Members: []string{bob}})
	require.NoError(t, err)

	msg, err := a.SendMessage(ctx, conv.ID, model.SendMessageRequest{Text: "hello @" + bob})
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, msg.UserMentions)

	msgs, err := b.GetMessages(ctx, conv.ID, model.MessageQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	read, err := b.MarkRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), read.NumOfReadedMessage[bob])

	all, err := a.ListMessages(ctx, model.ListOptions{Creator: alice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), all.TotalCount)

	_, err = b.ModerateMessage(ctx, msg.ID, true)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestMembershipCalls(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := newClient(t, srv, alice)

	channels, err := c.GetChannels(ctx, model.ChannelOptions{})
	require.NoError(t, err)
	require.Len(t, channels, 1)

	joined, err := c.AddMember(ctx, channels[0].ID, alice)
	require.NoError(t, err)
	assert.True(t, joined.HasMember(alice))

	left, err := c.RemoveMember(ctx, channels[0].ID, alice)
	require.NoError(t, err)
	assert.False(t, left.HasMember(alice))
}

func TestUnauthorizedClient(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "garbage", WithHTTPClient(srv.Client()))

	_, err := c.GetChannels(context.Background(), model.ChannelOptions{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	err = c.Subscribe(context.Background(), events.MessageCreated, func(context.Context, *events.Event) error { return nil })
	assert.ErrorAs(t, err, &apiErr)
}

func TestSubscribeDeliversVisibleEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := newServer(t)
	a := newClient(t, srv, alice)
	b := newClient(t, srv, bob)

	received := make(chan *events.Event, 8)
	require.NoError(t, b.Subscribe(ctx, events.MessageCreated, func(_ context.Context, e *events.Event) error {
		received <- e
		return nil
	}))

	conv, err := a.CreateConversation(ctx, model.CreateConversationRequest{Type: model.TypeConfidential, Members: []string{bob}})
	require.NoError(t, err)
	sent, err := a.SendMessage(ctx, conv.ID, model.SendMessageRequest{Text: "ping"})
	require.NoError(t, err)

	select {
	case e := <-received:
		var payload model.MessageCreatedEvent
		require.NoError(t, e.Decode(&payload))
		assert.Equal(t, sent.ID, payload.Message.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestReadStreamSkipsControlEvents(t *testing.T) {
	e, err := events.New(events.TopicUpdated, model.TopicUpdatedEvent{})
	require.NoError(t, err)
	data, err := e.Marshal()
	require.NoError(t, err)

	stream := strings.Join([]string{
		"event: connected",
		`data: {"user_id":"x"}`,
		"",
		": keep-alive",
		"",
		"event: " + string(events.TopicUpdated),
		"data: " + string(data),
		"",
	}, "\n")

	var got []*events.Event
	err = readStream(context.Background(), strings.NewReader(stream), func(e *events.Event) {
		got = append(got, e)
	})
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
}
