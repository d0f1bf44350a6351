package models

import "time"

// Entry is a user's single submission into a round. At most one per
// (user, round), enforced by a uniqueness constraint. Immutable after
// creation except for the winner fields set by settlement.
type Entry struct {
	ID          int64     `json:"id" db:"id"`
	EntryNumber string    `json:"entry_number" db:"entry_number"` // unique, doubles as the fee/prize ledger reference
	RoundID     int64     `json:"round_id" db:"round_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Choice      Choice    `json:"choice" db:"choice"`
	FeePaid     int64     `json:"fee_paid" db:"fee_paid"`
	IsWinner    bool      `json:"is_winner" db:"is_winner"`
	PrizeAmount int64     `json:"prize_amount" db:"prize_amount"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Winner is the record created once per winning entry during settlement.
// Uniqueness on entry_id guarantees a round can never pay the same entry
// twice.
type Winner struct {
	ID              int64      `json:"id" db:"id"`
	RoundID         int64      `json:"round_id" db:"round_id"`
	EntryID         int64      `json:"entry_id" db:"entry_id"`
	UserID          string     `json:"user_id" db:"user_id"`
	PrizeAmount     int64      `json:"prize_amount" db:"prize_amount"`
	PrizeCredited   bool       `json:"prize_credited" db:"prize_credited"`
	PrizeCreditedAt *time.Time `json:"prize_credited_at,omitempty" db:"prize_credited_at"`
	AnnouncedAt     time.Time  `json:"announced_at" db:"announced_at"`
}
