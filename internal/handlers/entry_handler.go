package handlers

import (
	"net/http"
	"strconv"

	"github.com/malamalweekly/backend/internal/middleware"
	"github.com/malamalweekly/backend/internal/models"
	"github.com/malamalweekly/backend/internal/services"
)

type EntryHandler struct {
	entries   *services.EntryService
	validator *services.ValidationHelper
}

func NewEntryHandler(entries *services.EntryService) *EntryHandler {
	return &EntryHandler{
		entries:   entries,
		validator: services.NewValidationHelper(),
	}
}

// Submit enters the caller into a round.
func (h *EntryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	roundID, ok := roundParam(w, r)
	if !ok {
		return
	}

	var req struct {
		Choice models.Choice `json:"choice" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Choice.IsZero() {
		services.SendErrorResponse(w, "Choice is required", http.StatusBadRequest, nil)
		return
	}

	entry, err := h.entries.Submit(r.Context(), roundID, userID, req.Choice)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "entry": entry})
}

// List returns the frozen entry set of a closed round. Admin only.
func (h *EntryHandler) List(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundParam(w, r)
	if !ok {
		return
	}

	entries, err := h.entries.ListEntries(r.Context(), roundID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

// Mine returns the caller's entries.
func (h *EntryHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.entries.UserEntries(r.Context(), userID, limit)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}
