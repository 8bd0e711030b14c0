// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/model"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service *service.ConversationService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service: svc,
		logger:  logger.OrNop(log).Named("conversation_handler"),
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateConversationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name != nil {
		if err := middleware.ValidateName(*req.Name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := middleware.ValidateIDs(req.Members); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv := &model.Conversation{
		Type:        req.Type,
		Name:        req.Name,
		Avatar:      req.Avatar,
		Moderate:    req.Moderate,
		Members:     append([]string{userID}, req.Members...),
		Creator:     userID,
		CommunityID: req.CommunityID,
	}
	if req.Topic != nil {
		if err := middleware.ValidateTopic(req.Topic.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		conv.Topic = model.Topic{Value: req.Topic.Value, Creator: userID, LastSet: time.Now().UTC()}
	}

	created, err := h.service.CreateConversation(ctx, conv)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	page, err := h.service.ListConversations(r.Context(), model.ListOptions{
		Limit:   limit,
		Offset:  offset,
		Creator: r.URL.Query().Get("creator"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Search handles POST /api/v1/conversations/search
func (h *ConversationHandler) Search(w http.ResponseWriter, r *http.Request) {
	var filter model.ConversationFilter
	if err := decode(r, &filter); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	convs, err := h.service.FindConversation(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to find conversations")
		return
	}
	if convs == nil {
		convs = []*model.Conversation{}
	}

	writeJSON(w, http.StatusOK, convs)
}

// Channels handles GET /api/v1/channels
func (h *ConversationHandler) Channels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.service.GetChannels(r.Context(), model.ChannelOptions{
		Moderate: boolParam(r, "moderate"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get channels")
		return
	}

	writeJSON(w, http.StatusOK, channels)
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	conv, err := h.service.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PUT /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	mods, ok := decodeModifications(w, r)
	if !ok {
		return
	}

	conv, err := h.service.UpdateConversation(r.Context(), conversationID, mods)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// UpdateCommunity handles PUT /api/v1/communities/{id}/conversation
func (h *ConversationHandler) UpdateCommunity(w http.ResponseWriter, r *http.Request) {
	communityID, ok := idParam(w, r, "id", "community")
	if !ok {
		return
	}

	mods, ok := decodeModifications(w, r)
	if !ok {
		return
	}

	conv, err := h.service.UpdateCommunityConversation(r.Context(), communityID, mods)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update community conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	if _, err := h.service.DeleteConversation(r.Context(), middleware.GetUserID(r.Context()), conversationID); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddMember handles PUT /api/v1/conversations/{id}/members/{userID}
func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}
	memberID, ok := idParam(w, r, "userID", "user")
	if !ok {
		return
	}

	conv, err := h.service.AddMemberToConversation(r.Context(), conversationID, memberID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to add member")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// RemoveMember handles DELETE /api/v1/conversations/{id}/members/{userID}
func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}
	memberID, ok := idParam(w, r, "userID", "user")
	if !ok {
		return
	}

	conv, err := h.service.RemoveMemberFromConversation(r.Context(), conversationID, memberID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to remove member")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// UpdateTopic handles PUT /api/v1/conversations/{id}/topic
func (h *ConversationHandler) UpdateTopic(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	var req model.UpdateTopicRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTopic(req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.service.UpdateTopic(r.Context(), conversationID, model.Topic{
		Value:   req.Value,
		Creator: middleware.GetUserID(r.Context()),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to update topic")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// MarkRead handles POST /api/v1/conversations/{id}/read. Marking for other
// users requires the moderator scope.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	var req model.MarkReadRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateIDs(req.UserIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := middleware.GetUserID(ctx)
	users := model.Unique(req.UserIDs)
	if len(users) == 0 {
		users = []string{userID}
	}
	if !(len(users) == 1 && users[0] == userID) && !middleware.HasScope(ctx, middleware.ScopeModerator) {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	conv, err := h.service.MarkAllMessagesAsRead(ctx, users, conversationID)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to mark conversation read")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Moderate handles PUT /api/v1/conversations/{id}/moderate
func (h *ConversationHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := idParam(w, r, "id", "conversation")
	if !ok {
		return
	}

	var req model.ModerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.service.ModerateConversation(r.Context(), conversationID, req.Moderate)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to moderate conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

func idParam(w http.ResponseWriter, r *http.Request, name, kind string) (string, bool) {
	id := chi.URLParam(r, name)
	if err := middleware.ValidateID(kind, id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func decodeModifications(w http.ResponseWriter, r *http.Request) (model.Modifications, bool) {
	var mods model.Modifications
	if err := decode(r, &mods); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return mods, false
	}
	if mods.Name != nil {
		if err := middleware.ValidateName(*mods.Name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return mods, false
		}
	}
	if err := middleware.ValidateIDs(append(append([]string{}, mods.NewMembers...), mods.DeleteMembers...)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return mods, false
	}
	return mods, true
}
