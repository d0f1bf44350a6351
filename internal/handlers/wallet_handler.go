package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/malamalweekly/backend/internal/middleware"
	"github.com/malamalweekly/backend/internal/models"
	"github.com/malamalweekly/backend/internal/services"
)

type WalletHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewWalletHandler(ledger *services.LedgerService) *WalletHandler {
	return &WalletHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// ProvisionAccount creates a wallet for a user. Called by the registration
// flow before any entry or settlement activity; nothing else creates
// accounts.
func (h *WalletHandler) ProvisionAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId" validate:"required,max=64"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := h.ledger.ProvisionAccount(r.Context(), req.UserID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "account": account})
}

// Balance returns the caller's wallet.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := h.ledger.Account(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "account": account})
}

// History returns the caller's most recent ledger entries.
func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.ledger.History(r.Context(), userID, limit)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

// Deposit credits a wallet after the external payment flow has verified the
// payment. The payment id is the idempotency reference, so a retried webhook
// delivery cannot credit twice.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID    string `json:"userId" validate:"required,max=64"`
		Amount    int64  `json:"amount" validate:"required,gt=0"`
		PaymentID string `json:"paymentId" validate:"required,max=200"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := h.ledger.Credit(r.Context(), req.UserID, req.Amount, models.KindDeposit,
		"DEP-"+req.PaymentID, "Verified deposit")
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entry": entry})
}

// Withdraw debits the caller's wallet for an approved withdrawal request.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount    int64  `json:"amount" validate:"required,gt=0"`
		RequestID string `json:"requestId" validate:"required,max=200"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := h.ledger.Debit(r.Context(), userID, req.Amount, models.KindWithdrawal,
		"WDR-"+req.RequestID, "Withdrawal request")
	if err != nil {
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "entry": entry})
}

// decodeBody reads a single JSON object with the size and strictness limits
// applied to every endpoint.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
