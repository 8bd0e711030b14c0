package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/internal/store/memory"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

const (
	secret = "handler-secret"
	alice  = "aaaaaaaaaaaaaaaaaaaaaaaa"
	bob    = "bbbbbbbbbbbbbbbbbbbbbbbb"
	carol  = "cccccccccccccccccccccccc"
)

type testAPI struct {
	handler http.Handler
	convs   *service.ConversationService
	msgs    *service.MessageService
	bus     *events.MemoryBus
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := memory.New()
	bus := events.NewMemoryBus(nil)
	t.Cleanup(func() { bus.Close() })

	cfg := service.DefaultConfig()
	convs := service.NewConversationService(st, st, st, bus, cfg, nil)
	msgs := service.NewMessageService(st, convs, st, bus, cfg, nil)
	t.Cleanup(convs.Wait)

	h := NewRouter(RouterConfig{JWTSecret: secret}, Dependencies{
		Conversations: convs,
		Messages:      msgs,
		Events:        bus,
		Checks:        map[string]Pinger{"store": st},
	}, nil)
	return &testAPI{handler: h, convs: convs, msgs: msgs, bus: bus}
}

func token(t *testing.T, userID string, scopes ...string) string {
	t.Helper()
	tok, err := middleware.IssueToken(secret, userID, scopes, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) do(t *testing.T, method, path, userID string, body interface{}, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID, scopes...))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (a *testAPI) createConversation(t *testing.T, userID string, typ model.ConversationType, members ...string) *model.Conversation {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/conversations", userID, model.CreateConversationRequest{
		Type:    typ,
		Members: members,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[*model.Conversation](t, rec)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/ready", "", nil).Code)
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyReportsUnavailableDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{"bus": downPinger{}})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bus unavailable")
}

func TestAPIRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/v1/channels", "", nil).Code)
}

func TestCreateConversationAddsCreator(t *testing.T) {
	api := newTestAPI(t)

	conv := api.createConversation(t, alice, model.TypeConfidential, bob)
	assert.Equal(t, []string{alice, bob}, conv.Members)
	assert.Equal(t, alice, conv.Creator)

	rec := api.do(t, http.MethodPost, "/api/v1/conversations", alice, model.CreateConversationRequest{Type: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/conversations", alice, model.CreateConversationRequest{
		Type:    model.TypeConfidential,
		Members: []string{"not-an-id"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationStatuses(t *testing.T) {
	api := newTestAPI(t)
	conv := api.createConversation(t, alice, model.TypeConfidential)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, "/api/v1/conversations/"+model.NewID(), alice, nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodGet, "/api/v1/conversations/xyz", alice, nil).Code)
}

func TestSearchConversations(t *testing.T) {
	api := newTestAPI(t)
	pair := api.createConversation(t, alice, model.TypeConfidential, bob)
	api.createConversation(t, alice, model.TypeConfidential, bob, carol)

	rec := api.do(t, http.MethodPost, "/api/v1/conversations/search", alice, model.ConversationFilter{
		Members:           []string{alice, bob},
		ExactMembersMatch: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	found := decodeBody[[]*model.Conversation](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, pair.ID, found[0].ID)

	rec = api.do(t, http.MethodPost, "/api/v1/conversations/search", alice, model.ConversationFilter{ExactMembersMatch: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelsBootstrap(t *testing.T) {
	api := newTestAPI(t)

	first := decodeBody[[]*model.Conversation](t, api.do(t, http.MethodGet, "/api/v1/channels", alice, nil))
	second := decodeBody[[]*model.Conversation](t, api.do(t, http.MethodGet, "/api/v1/channels", bob, nil))
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestMessagesFlow(t *testing.T) {
	api := newTestAPI(t)
	conv := api.createConversation(t, alice, model.TypeConfidential, bob)
	path := "/api/v1/conversations/" + conv.ID + "/messages"

	rec := api.do(t, http.MethodPost, path, alice, model.SendMessageRequest{Text: "hi @" + bob})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decodeBody[*model.Message](t, rec)
	assert.Equal(t, []string{bob}, msg.UserMentions)
	assert.Equal(t, alice, msg.Creator)

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, path, alice, model.SendMessageRequest{Text: " "}).Code)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, path, carol, model.SendMessageRequest{Text: "let me in"}).Code)

	rec = api.do(t, http.MethodGet, path, bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]*model.Message](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, msg.ID, list[0].ID)

	rec = api.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	read := decodeBody[*model.Conversation](t, rec)
	assert.Equal(t, int64(1), read.NumOfReadedMessage[bob])

	rec = api.do(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", bob, model.MarkReadRequest{UserIDs: []string{alice, bob}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	page := decodeBody[model.Page[*model.Message]](t, api.do(t, http.MethodGet, "/api/v1/messages?creator="+alice, alice, nil))
	assert.Equal(t, int64(1), page.TotalCount)
}

func TestModerationRequiresScope(t *testing.T) {
	api := newTestAPI(t)
	conv := api.createConversation(t, alice, model.TypeOpen)
	msg := decodeBody[*model.Message](t, api.do(t, http.MethodPost,
		"/api/v1/conversations/"+conv.ID+"/messages", alice, model.SendMessageRequest{Text: "spam"}))

	body := model.ModerateRequest{Moderate: true}
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPut, "/api/v1/messages/"+msg.ID+"/moderate", alice, body).Code)

	rec := api.do(t, http.MethodPut, "/api/v1/messages/"+msg.ID+"/moderate", bob, body, middleware.ScopeModerator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[*model.Message](t, rec).Moderate)

	list := decodeBody[[]*model.Message](t, api.do(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", alice, nil))
	assert.Empty(t, list)

	list = decodeBody[[]*model.Message](t, api.do(t, http.MethodGet,
		"/api/v1/conversations/"+conv.ID+"/messages?include_moderated=true", bob, nil, middleware.ScopeModerator))
	assert.Len(t, list, 1)

	rec = api.do(t, http.MethodPut, "/api/v1/conversations/"+conv.ID+"/moderate", bob, body, middleware.ScopeModerator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[*model.Conversation](t, rec).Moderate)
}

func TestMembershipAndTopicRoutes(t *testing.T) {
	api := newTestAPI(t)
	conv := api.createConversation(t, alice, model.TypeConfidential)
	base := "/api/v1/conversations/" + conv.ID

	rec := api.do(t, http.MethodPut, base+"/members/"+bob, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{alice, bob}, decodeBody[*model.Conversation](t, rec).Members)

	rec = api.do(t, http.MethodDelete, base+"/members/"+bob, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{alice}, decodeBody[*model.Conversation](t, rec).Members)

	name := "team"
	rec = api.do(t, http.MethodPut, base, alice, model.Modifications{NewMembers: []string{carol}, Name: &name})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[*model.Conversation](t, rec)
	assert.Equal(t, []string{alice, carol}, updated.Members)
	require.NotNil(t, updated.Name)
	assert.Equal(t, "team", *updated.Name)

	rec = api.do(t, http.MethodPut, base+"/topic", alice, model.UpdateTopicRequest{Value: "planning"})
	require.Equal(t, http.StatusOK, rec.Code)
	topic := decodeBody[*model.Conversation](t, rec).Topic
	assert.Equal(t, "planning", topic.Value)
	assert.Equal(t, alice, topic.Creator)
}

func TestDeleteConversationRoute(t *testing.T) {
	api := newTestAPI(t)
	conv := api.createConversation(t, alice, model.TypeConfidential)
	path := "/api/v1/conversations/" + conv.ID

	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, path, bob, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, path, alice, nil).Code)

	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, path, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, path, alice, nil).Code)
}

func TestUpdateCommunityConversationRoute(t *testing.T) {
	api := newTestAPI(t)
	community := model.NewID()
	rec := api.do(t, http.MethodPost, "/api/v1/conversations", alice, model.CreateConversationRequest{
		Type:        model.TypeCommunity,
		CommunityID: community,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPut, "/api/v1/communities/"+community+"/conversation", alice,
		model.Modifications{NewMembers: []string{bob}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{alice, bob}, decodeBody[*model.Conversation](t, rec).Members)

	rec = api.do(t, http.MethodPut, "/api/v1/communities/"+model.NewID()+"/conversation", alice,
		model.Modifications{NewMembers: []string{bob}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStreamFiltersByVisibility(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/api/v1/events?topics="+string(events.ConversationCreated), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, bob))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, "event: ") {
				return strings.TrimPrefix(line, "event: ")
			}
		}
		return ""
	}
	require.Equal(t, "connected", next())

	_, err = api.convs.CreateConversation(ctx, &model.Conversation{Type: model.TypeConfidential, Members: []string{alice}})
	require.NoError(t, err)
	visible, err := api.convs.CreateConversation(ctx, &model.Conversation{Type: model.TypeConfidential, Members: []string{alice, bob}})
	require.NoError(t, err)

	require.Equal(t, string(events.ConversationCreated), next())
	require.True(t, lines.Scan())
	data := strings.TrimPrefix(lines.Text(), "data: ")
	e, err := events.Unmarshal([]byte(data))
	require.NoError(t, err)
	var conv model.Conversation
	require.NoError(t, e.Decode(&conv))
	assert.Equal(t, visible.ID, conv.ID)
}

func TestEventStreamRejectsUnknownTopic(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/v1/events?topics=chat.nope", alice, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventStreamSendsKeepAliveComments(t *testing.T) {
	api := newTestAPI(t)
	h := NewEventHandler(api.bus, api.convs, nil)
	h.keepAlive = 10 * time.Millisecond
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, r.WithContext(middleware.WithUser(r.Context(), bob, nil)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	found := false
	for lines.Scan() {
		if lines.Text() == ": keep-alive" {
			found = true
			break
		}
	}
	assert.True(t, found)
	assert.Equal(t, keepAliveInterval, NewEventHandler(api.bus, api.convs, nil).keepAlive)
}

func TestPageParamsKeepsExplicitZeroOffset(t *testing.T) {
	limit, offset := pageParams(httptest.NewRequest(http.MethodGet, "/?limit=5&offset=0", nil))
	assert.Equal(t, 5, limit)
	require.NotNil(t, offset)
	assert.Equal(t, 0, *offset)

	limit, offset = pageParams(httptest.NewRequest(http.MethodGet, "/?offset=-2", nil))
	assert.Equal(t, 0, limit)
	assert.Nil(t, offset)

	_, offset = pageParams(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, offset)
}

func TestServiceErrorLogsCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	log := &logger.Logger{Logger: zap.New(core)}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.CorrelationIDKey, "corr-42"))
	rec := httptest.NewRecorder()
	writeServiceError(rec, req, log, errors.New("boom"), "failed to list")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "corr-42", logs.All()[0].ContextMap()["correlation_id"])

	rec = httptest.NewRecorder()
	writeServiceError(rec, req, log, &service.NotFoundError{Resource: "conversation", ID: alice}, "failed")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1, logs.Len())
}
