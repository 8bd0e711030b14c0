package handler

import (
	"net/http"

	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messageService      *service.MessageService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(
	msgSvc *service.MessageService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *MessageHandler {
	return &MessageHandler{
		messageService:      msgSvc,
		conversationService: convSvc,
		logger:              logger.OrNop(log).Named("message_handler"),
	}
}

// List handles GET /api/v1/conversations/{id}/messages. Moderated messages
// are only returned to moderators.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	conv, ok := h.visibleConversation(w, r, conversationID)
	if !ok {
		return
	}

	limit, offset := pageParams(r)
	msgs, err := h.messageService.GetConversationMessages(ctx, conv, model.MessageQuery{
		Limit:            limit,
		Offset:           offset,
		IncludeModerated: boolParam(r, "include_moderated") && middleware.HasScope(ctx, middleware.ScopeModerator),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	if _, ok := h.visibleConversation(w, r, conversationID); !ok {
		return
	}

	var req model.SendMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messageService.CreateMessage(ctx, &model.Message{
		Channel:  conversationID,
		Creator:  middleware.GetUserID(ctx),
		Text:     req.Text,
		Moderate: req.Moderate,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// ListAll handles GET /api/v1/messages
func (h *MessageHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	page, err := h.messageService.ListMessages(r.Context(), model.ListOptions{
		Limit:   limit,
		Offset:  offset,
		Creator: r.URL.Query().Get("creator"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Moderate handles PUT /api/v1/messages/{id}/moderate
func (h *MessageHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	messageID, ok := idParam(w, r, "id", "message")
	if !ok {
		return
	}

	var req model.ModerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.messageService.ModerateMessage(r.Context(), messageID, req.Moderate)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to moderate message")
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// visibleConversation loads the conversation and checks the caller may read
// it: channels are public, everything else needs membership.
func (h *MessageHandler) visibleConversation(w http.ResponseWriter, r *http.Request, id string) (*model.Conversation, bool) {
	ctx := r.Context()
	conv, err := h.conversationService.GetConversation(ctx, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get conversation")
		return nil, false
	}
	if !canSee(conv, middleware.GetUserID(ctx)) && !middleware.HasScope(ctx, middleware.ScopeModerator) {
		writeError(w, http.StatusForbidden, "not a member of this conversation")
		return nil, false
	}
	return conv, true
}

func canSee(conv *model.Conversation, userID string) bool {
	return conv.Type == model.TypeOpen || conv.HasMember(userID)
}
