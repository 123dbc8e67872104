package chat

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/lumenfi/loanvoice/backend/internal/model/chat"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	"github.com/lumenfi/loanvoice/backend/pkg/utils"
)

// Handler exposes the conversation flow over HTTP.
type Handler struct {
	convo *conversation.Service
}

// New creates the conversation handler.
func New(convo *conversation.Service) *Handler {
	return &Handler{convo: convo}
}

// RegisterRoutes mounts the conversation endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations/{userID}/messages", h.handleMessage)
	r.Get("/conversations/{userID}/messages", h.handleTranscript)
	r.Get("/conversations/{userID}/recent", h.handleRecent)
	r.Post("/conversations/{userID}/new", h.handleStartNew)
	r.Delete("/conversations/{userID}", h.handleClear)
}

// handleMessage runs one full text turn: append, extract, decide,
// complete, append the reply.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userID is required")
		return
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Content == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	session := h.convo.StartOrResume(r.Context(), userID)
	result := h.convo.ProcessUserTurn(r.Context(), session, payload.Content, chatmodel.KindText)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"userTurn":      result.UserTurn,
		"assistantTurn": result.AssistantTurn,
		"fields":        result.Fields.Snapshot(),
		"decision":      result.Decision,
		"changedFields": result.ChangedFields,
		"degraded":      result.Degraded,
	})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	session := h.convo.StartOrResume(r.Context(), userID)

	fields, decision := h.convo.Fields(session)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": session.ConversationID,
		"turns":          h.convo.Turns(session),
		"fields":         fields.Snapshot(),
		"decision":       decision,
	})
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			utils.RespondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	summaries, err := h.convo.ListRecent(r.Context(), userID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "conversation history unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleStartNew(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	session := h.convo.StartNew(userID)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"conversationId": session.ConversationID,
	})
}

// handleClear is idempotent: clearing an empty conversation succeeds.
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	session := h.convo.StartOrResume(r.Context(), userID)
	h.convo.Clear(r.Context(), session)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
