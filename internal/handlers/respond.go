package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/malamalweekly/backend/internal/services"
)

// statusForError maps the service error taxonomy onto HTTP status codes.
// Conflict-class errors (lost settlement race, duplicate entry) are 409 so
// trigger clients know not to retry blindly.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrGameNotFound),
		errors.Is(err, services.ErrRoundNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrAlreadyEntered),
		errors.Is(err, services.ErrAlreadySettling),
		errors.Is(err, services.ErrAlreadyCompleted),
		errors.Is(err, services.ErrDuplicateReference),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrRoundNotClosed),
		errors.Is(err, services.ErrNotSettling):
		return http.StatusConflict
	case errors.Is(err, services.ErrRoundNotOpen),
		errors.Is(err, services.ErrRoundFull):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
