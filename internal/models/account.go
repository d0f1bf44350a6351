package models

import "time"

// Ledger entry kinds. Every balance-affecting event carries exactly one.
const (
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
	KindEntryFee   = "entry_fee"
	KindPrize      = "prize"
	KindRefund     = "refund"
)

// Account is a user's wallet. Balance is held in credits (smallest currency
// unit) and is only ever mutated through the ledger service, which keeps the
// running counters consistent with the entry kind.
type Account struct {
	UserID           string    `json:"user_id" db:"user_id"`
	Balance          int64     `json:"balance" db:"balance"` // in credits
	TotalDeposits    int64     `json:"total_deposits" db:"total_deposits"`
	TotalWithdrawals int64     `json:"total_withdrawals" db:"total_withdrawals"`
	TotalWinnings    int64     `json:"total_winnings" db:"total_winnings"`
	TotalSpent       int64     `json:"total_spent" db:"total_spent"`
	Version          int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// LedgerEntry is one committed balance-affecting event. Entries are written
// once and never updated or deleted; the sum of signed amounts per user is the
// account balance.
type LedgerEntry struct {
	ID            int64     `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Amount        int64     `json:"amount" db:"amount"` // signed, in credits
	Kind          string    `json:"kind" db:"kind"`
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	Reference     string    `json:"reference" db:"reference"` // unique idempotency key
	Description   string    `json:"description" db:"description"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
