package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
	"github.com/capitalize-ai/chat-platform/pkg/metrics"
)

const (
	streamBufferSize  = 64
	keepAliveInterval = 15 * time.Second
)

// EventHandler relays bus events to clients over server-sent events.
type EventHandler struct {
	subscriber          events.Subscriber
	conversationService *service.ConversationService
	logger              *logger.Logger
	keepAlive           time.Duration
}

// NewEventHandler creates a new event stream handler.
func NewEventHandler(sub events.Subscriber, convSvc *service.ConversationService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		subscriber:          sub,
		conversationService: convSvc,
		logger:              logger.OrNop(log).Named("event_handler"),
		keepAlive:           keepAliveInterval,
	}
}

// Stream handles GET /api/v1/events. Supports ?topics=a,b to narrow the
// stream; only events about conversations the caller can see are sent.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan *events.Event, streamBufferSize)
	relay := func(ctx context.Context, e *events.Event) error {
		if !h.visible(ctx, userID, e) {
			return nil
		}
		select {
		case out <- e:
		default:
			h.logger.Warn("dropping event for slow client",
				zap.String("user_id", userID),
				zap.String("topic", string(e.Topic)))
		}
		return nil
	}
	for _, topic := range topics {
		if err := h.subscriber.Subscribe(ctx, topic, relay); err != nil {
			h.logger.Error("failed to subscribe", zap.String("topic", string(topic)), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
			return
		}
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"user_id": userID,
	})

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("user_id", userID))
			return

		case e := <-out:
			if err := sendSSEEvent(w, flusher, string(e.Topic), e); err != nil {
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "encode_error",
					Message: "failed to encode event",
				})
			}

		case <-keepAlive.C:
			sendSSEComment(w, flusher, "keep-alive")
		}
	}
}

// visible reports whether userID may receive e.
func (h *EventHandler) visible(ctx context.Context, userID string, e *events.Event) bool {
	switch e.Topic {
	case events.ConversationCreated, events.ConversationDeleted:
		var conv model.Conversation
		return e.Decode(&conv) == nil && canSee(&conv, userID)

	case events.ConversationUpdated:
		var payload model.ConversationUpdatedEvent
		if e.Decode(&payload) != nil || payload.Conversation == nil {
			return false
		}
		for _, m := range payload.DeletedMembers {
			if m == userID {
				return true
			}
		}
		return canSee(payload.Conversation, userID)

	case events.MemberAdded:
		var payload model.MemberAddedEvent
		return e.Decode(&payload) == nil && payload.Conversation != nil && canSee(payload.Conversation, userID)

	case events.TopicUpdated:
		var payload model.TopicUpdatedEvent
		return e.Decode(&payload) == nil && payload.Conversation != nil && canSee(payload.Conversation, userID)

	case events.MessageCreated:
		var payload model.MessageCreatedEvent
		if e.Decode(&payload) != nil || payload.Message == nil {
			return false
		}
		conv, err := h.conversationService.GetConversation(ctx, payload.Message.Channel)
		return err == nil && canSee(conv, userID)
	}
	return false
}

func parseTopics(raw string) ([]events.Topic, error) {
	if raw == "" {
		return events.Topics(), nil
	}
	var topics []events.Topic
	for _, part := range strings.Split(raw, ",") {
		t := events.Topic(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}

// sendSSEComment writes a comment line, which clients ignore.
func sendSSEComment(w http.ResponseWriter, flusher http.Flusher, text string) {
	fmt.Fprintf(w, ": %s\n\n", text)
	flusher.Flush()
}
