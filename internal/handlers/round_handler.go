package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/malamalweekly/backend/internal/models"
	"github.com/malamalweekly/backend/internal/services"
)

// RoundHandler exposes the administrative trigger surface: scheduling rounds,
// driving the lifecycle and running settlement. Callers receiving a 409 on
// settle lost the race to another trigger and must not retry blindly.
type RoundHandler struct {
	rounds     *services.RoundService
	settlement *services.SettlementService
	validator  *services.ValidationHelper
}

func NewRoundHandler(rounds *services.RoundService, settlement *services.SettlementService) *RoundHandler {
	return &RoundHandler{
		rounds:     rounds,
		settlement: settlement,
		validator:  services.NewValidationHelper(),
	}
}

// Create schedules a round for a game.
func (h *RoundHandler) Create(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseInt(chi.URLParam(r, "gameId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid game id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		ScheduledStart time.Time `json:"scheduledStart" validate:"required"`
		ScheduledEnd   time.Time `json:"scheduledEnd" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	round, err := h.rounds.Create(r.Context(), gameID, req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "round": round})
}

// Get returns one round.
func (h *RoundHandler) Get(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundParam(w, r)
	if !ok {
		return
	}

	round, err := h.rounds.Get(r.Context(), roundID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "round": round})
}

// Open opens a scheduled round for entries.
func (h *RoundHandler) Open(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.rounds.Open)
}

// Close stops a round from accepting entries.
func (h *RoundHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.rounds.Close)
}

// Cancel moves a non-terminal round to cancelled and refunds entry fees.
func (h *RoundHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.settlement.Cancel)
}

// Settle runs settlement for a closed round. The optional body forces the
// winning outcome (manual selection); without it the outcome is drawn.
func (h *RoundHandler) Settle(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundParam(w, r)
	if !ok {
		return
	}

	var result *services.SettlementResult
	var err error

	if r.ContentLength > 0 {
		var req struct {
			Outcome models.Choice `json:"outcome"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		result, err = h.settlement.SettleWith(r.Context(), roundID, req.Outcome)
	} else {
		result, err = h.settlement.Settle(r.Context(), roundID)
	}

	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

// Resume finishes a settlement interrupted mid-payout.
func (h *RoundHandler) Resume(w http.ResponseWriter, r *http.Request) {
	roundID, ok := roundParam(w, r)
	if !ok {
		return
	}

	result, err := h.settlement.Resume(r.Context(), roundID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

// Stalled lists rounds stuck in settling with a drawn outcome.
func (h *RoundHandler) Stalled(w http.ResponseWriter, r *http.Request) {
	ids, err := h.rounds.StalledRounds(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "roundIds": ids})
}

func (h *RoundHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, roundID int64) error) {
	roundID, ok := roundParam(w, r)
	if !ok {
		return
	}

	if err := op(r.Context(), roundID); err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	round, err := h.rounds.Get(r.Context(), roundID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "round": round})
}

func roundParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	roundID, err := strconv.ParseInt(chi.URLParam(r, "roundId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid round id", http.StatusBadRequest, nil)
		return 0, false
	}
	return roundID, true
}
