package loan

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	loanmodel "github.com/lumenfi/loanvoice/backend/internal/model/loan"
	"github.com/lumenfi/loanvoice/backend/internal/service/conversation"
	"github.com/lumenfi/loanvoice/backend/internal/store"
	"github.com/lumenfi/loanvoice/backend/pkg/utils"
)

// Handler exposes loan application submission and listing. Extraction
// only ever produces a draft; these endpoints turn a draft into a
// record on explicit user action.
type Handler struct {
	convo *conversation.Service
}

func New(convo *conversation.Service) *Handler {
	return &Handler{convo: convo}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/loans/{userID}/applications", h.handleSubmit)
	r.Get("/loans/{userID}/applications", h.handleList)
	r.Patch("/loans/applications/{applicationID}/status", h.handleUpdateStatus)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	session := h.convo.StartOrResume(r.Context(), userID)

	fields, _ := h.convo.Fields(session)
	if missing := fields.MissingRequired(); len(missing) > 0 {
		utils.RespondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "application incomplete",
			"missing": missing,
		})
		return
	}

	record, err := h.convo.SubmitApplication(r.Context(), session)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "could not submit application, please retry")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	records, err := h.convo.Applications(r.Context(), userID)
	if err != nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "applications unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "applicationID")

	var payload struct {
		Status loanmodel.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch payload.Status {
	case loanmodel.StatusPending, loanmodel.StatusApproved, loanmodel.StatusRejected, loanmodel.StatusNeedsInfo:
	default:
		utils.RespondError(w, http.StatusBadRequest, "invalid status")
		return
	}

	if err := h.convo.UpdateApplicationStatus(r.Context(), applicationID, payload.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "application not found")
			return
		}
		utils.RespondError(w, http.StatusServiceUnavailable, "could not update application")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": string(payload.Status)})
}
