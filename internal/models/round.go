package models

import "time"

// Round statuses. Legal transitions are enforced by the round service:
// scheduled -> open -> closed -> settling -> completed, with cancelled
// reachable from any non-terminal state.
const (
	RoundStatusScheduled = "scheduled"
	RoundStatusOpen      = "open"
	RoundStatusClosed    = "closed"
	RoundStatusSettling  = "settling"
	RoundStatusCompleted = "completed"
	RoundStatusCancelled = "cancelled"
)

// Round is one timed instance of a game accepting entries. The winning
// outcome is set exactly once, at settlement time, before any payout.
type Round struct {
	ID                int64      `json:"id" db:"id"`
	GameID            int64      `json:"game_id" db:"game_id"`
	RoundNumber       int        `json:"round_number" db:"round_number"` // unique per game
	Status            string     `json:"status" db:"status"`
	ScheduledStart    time.Time  `json:"scheduled_start" db:"scheduled_start"`
	ScheduledEnd      time.Time  `json:"scheduled_end" db:"scheduled_end"`
	ActualStart       *time.Time `json:"actual_start,omitempty" db:"actual_start"`
	ActualEnd         *time.Time `json:"actual_end,omitempty" db:"actual_end"`
	TotalParticipants int        `json:"total_participants" db:"total_participants"`
	TotalPoolAmount   int64      `json:"total_pool_amount" db:"total_pool_amount"`
	WinningOutcome    *Choice    `json:"winning_outcome,omitempty" db:"winning_outcome"`
	HasWinner         bool       `json:"has_winner" db:"has_winner"`
	ResultAnnouncedAt *time.Time `json:"result_announced_at,omitempty" db:"result_announced_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether no further transitions are allowed.
func (r *Round) Terminal() bool {
	return r.Status == RoundStatusCompleted || r.Status == RoundStatusCancelled
}
