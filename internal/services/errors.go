package services

import "errors"

// Error taxonomy shared by the wallet, entry, round and settlement services.
// Callers that retry settlement steps must treat ErrDuplicateReference as
// confirmation the step already committed, not as a failure.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDuplicateReference = errors.New("duplicate ledger reference")

	ErrGameNotFound  = errors.New("game not found")
	ErrRoundNotFound = errors.New("round not found")

	ErrRoundNotOpen   = errors.New("round is not open for entry")
	ErrRoundFull      = errors.New("round has reached maximum participants")
	ErrAlreadyEntered = errors.New("user has already entered this round")
	ErrRoundNotClosed = errors.New("round entries are not frozen yet")

	ErrInvalidTransition = errors.New("invalid round state transition")
	ErrAlreadySettling   = errors.New("round settlement already in progress")
	ErrAlreadyCompleted  = errors.New("round has already been settled")
	ErrNotSettling       = errors.New("round is not in settling state")
)
