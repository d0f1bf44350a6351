package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/malamalweekly/backend/internal/models"
	"github.com/malamalweekly/backend/internal/services"
)

type GameHandler struct {
	games     *services.GameService
	validator *services.ValidationHelper
}

func NewGameHandler(games *services.GameService) *GameHandler {
	return &GameHandler{
		games:     games,
		validator: services.NewValidationHelper(),
	}
}

// Create registers a new game template. Admin only.
func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string            `json:"name" validate:"required,max=200"`
		Description     string            `json:"description" validate:"max=2000"`
		EntryFee        int64             `json:"entryFee" validate:"gte=0"`
		WinningAmount   int64             `json:"winningAmount" validate:"required,gt=0"`
		MinParticipants int               `json:"minParticipants" validate:"required,gte=1"`
		MaxParticipants int               `json:"maxParticipants" validate:"required,gte=1"`
		MatchRule       string            `json:"matchRule" validate:"required,oneof=exact_match partial_match closest random"`
		Config          models.GameConfig `json:"config" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	game, err := h.games.Create(r.Context(), &models.Game{
		Name:            req.Name,
		Description:     req.Description,
		EntryFee:        req.EntryFee,
		WinningAmount:   req.WinningAmount,
		MinParticipants: req.MinParticipants,
		MaxParticipants: req.MaxParticipants,
		MatchRule:       req.MatchRule,
		Config:          req.Config,
	})
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "game": game})
}

// List returns active games.
func (h *GameHandler) List(w http.ResponseWriter, r *http.Request) {
	games, err := h.games.List(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "games": games})
}

// Get returns one game.
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseInt(chi.URLParam(r, "gameId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid game id", http.StatusBadRequest, nil)
		return
	}

	game, err := h.games.Get(r.Context(), gameID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "game": game})
}
