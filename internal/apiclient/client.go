// Package apiclient is an HTTP client for the chat API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the chat API as one user.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *logger.Logger
	backoff      backoffConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = &http.Client{Transport: hc.Transport}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNop(log).Named("apiclient")
	}
}

// New creates a client for the API at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		logger:       logger.NewNop(),
		backoff:      defaultBackoff(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetChannels calls GET /api/v1/channels.
func (c *Client) GetChannels(ctx context.Context, opts model.ChannelOptions) ([]*model.Conversation, error) {
	q := url.Values{}
	if opts.Moderate {
		q.Set("moderate", "true")
	}
	var out []*model.Conversation
	err := c.do(ctx, http.MethodGet, "/channels", q, nil, &out)
	return out, err
}

// ListConversations calls GET /api/v1/conversations.
func (c *Client) ListConversations(ctx context.Context, opts model.ListOptions) (*model.Page[*model.Conversation], error) {
	var out model.Page[*model.Conversation]
	if err := c.do(ctx, http.MethodGet, "/conversations", listQuery(opts), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindConversation calls POST /api/v1/conversations/search.
func (c *Client) FindConversation(ctx context.Context, filter model.ConversationFilter) ([]*model.Conversation, error) {
	var out []*model.Conversation
	err := c.do(ctx, http.MethodPost, "/conversations/search", nil, filter, &out)
	return out, err
}

// GetConversation calls GET /api/v1/conversations/{id}.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil)
}

// CreateConversation calls POST /api/v1/conversations.
func (c *Client) CreateConversation(ctx context.Context, req model.CreateConversationRequest) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPost, "/conversations", req)
}

// UpdateConversation calls PUT /api/v1/conversations/{id}.
func (c *Client) UpdateConversation(ctx context.Context, id string, mods model.Modifications) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPut, "/conversations/"+url.PathEscape(id), mods)
}

// UpdateCommunityConversation calls PUT /api/v1/communities/{id}/conversation.
func (c *Client) UpdateCommunityConversation(ctx context.Context, communityID string, mods model.Modifications) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPut, "/communities/"+url.PathEscape(communityID)+"/conversation", mods)
}

// AddMember calls PUT /api/v1/conversations/{id}/members/{userID}.
func (c *Client) AddMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPut, memberPath(conversationID, userID), nil)
}

// RemoveMember calls DELETE /api/v1/conversations/{id}/members/{userID}.
func (c *Client) RemoveMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodDelete, memberPath(conversationID, userID), nil)
}

// DeleteConversation calls DELETE /api/v1/conversations/{id}.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), nil, nil, nil)
}

// UpdateTopic calls PUT /api/v1/conversations/{id}/topic.
func (c *Client) UpdateTopic(ctx context.Context, conversationID, value string) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/topic",
		model.UpdateTopicRequest{Value: value})
}

// MarkRead calls POST /api/v1/conversations/{id}/read. Without userIDs the
// read is recorded for the caller.
func (c *Client) MarkRead(ctx context.Context, conversationID string, userIDs ...string) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read",
		model.MarkReadRequest{UserIDs: userIDs})
}

// ModerateConversation calls PUT /api/v1/conversations/{id}/moderate.
func (c *Client) ModerateConversation(ctx context.Context, id string, moderate bool) (*model.Conversation, error) {
	return c.conversation(ctx, http.MethodPut, "/conversations/"+url.PathEscape(id)+"/moderate",
		model.ModerateRequest{Moderate: moderate})
}

// GetMessages calls GET /api/v1/conversations/{id}/messages.
func (c *Client) GetMessages(ctx context.Context, conversationID string, query model.MessageQuery) ([]*model.Message, error) {
	q := url.Values{}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Offset != nil {
		q.Set("offset", strconv.Itoa(*query.Offset))
	}
	if query.IncludeModerated {
		q.Set("include_moderated", "true")
	}
	var out []*model.Message
	err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", q, nil, &out)
	return out, err
}

// SendMessage calls POST /api/v1/conversations/{id}/messages.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req model.SendMessageRequest) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages calls GET /api/v1/messages.
func (c *Client) ListMessages(ctx context.Context, opts model.ListOptions) (*model.Page[*model.Message], error) {
	var out model.Page[*model.Message]
	if err := c.do(ctx, http.MethodGet, "/messages", listQuery(opts), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ModerateMessage calls PUT /api/v1/messages/{id}/moderate.
func (c *Client) ModerateMessage(ctx context.Context, id string, moderate bool) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(id)+"/moderate", nil,
		model.ModerateRequest{Moderate: moderate}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) conversation(ctx context.Context, method, path string, body interface{}) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body interface{}) (*http.Request, error) {
	u := c.baseURL + "/api/v1" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body model.ErrorEvent
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Message}
}

func listQuery(opts model.ListOptions) url.Values {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset != nil {
		q.Set("offset", strconv.Itoa(*opts.Offset))
	}
	if opts.Creator != "" {
		q.Set("creator", opts.Creator)
	}
	return q
}

func memberPath(conversationID, userID string) string {
	return "/conversations/" + url.PathEscape(conversationID) + "/members/" + url.PathEscape(userID)
}
