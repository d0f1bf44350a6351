package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

// RoundService governs the round lifecycle: scheduled -> open -> closed ->
// settling -> {completed | cancelled}. Every transition is a single
// compare-and-swap on the round row, so at most one caller can win any
// transition under concurrency. The closed -> settling swap is the mutual
// exclusion point for settlement.
type RoundService struct {
	db  *sql.DB
	log *zap.Logger
}

func NewRoundService(db *sql.DB, log *zap.Logger) *RoundService {
	return &RoundService{db: db, log: log}
}

// Create schedules a new round for a game, with a per-game sequential round
// number. The game row is locked to serialize concurrent creations.
func (s *RoundService) Create(ctx context.Context, gameID int64, scheduledStart, scheduledEnd time.Time) (*models.Round, error) {
	if !scheduledEnd.After(scheduledStart) {
		return nil, fmt.Errorf("scheduled end must be after scheduled start")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var gameStatus string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM games WHERE id = $1 FOR UPDATE`, gameID).Scan(&gameStatus)
	if err == sql.ErrNoRows {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	if gameStatus != models.GameStatusActive {
		return nil, fmt.Errorf("game %d is not active", gameID)
	}

	var roundNumber int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(round_number), 0) + 1 FROM game_rounds WHERE game_id = $1`, gameID).
		Scan(&roundNumber); err != nil {
		return nil, err
	}

	now := time.Now()
	round := &models.Round{
		GameID:         gameID,
		RoundNumber:    roundNumber,
		Status:         models.RoundStatusScheduled,
		ScheduledStart: scheduledStart,
		ScheduledEnd:   scheduledEnd,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO game_rounds (game_id, round_number, status, scheduled_start, scheduled_end, total_participants, total_pool_amount, has_winner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, false, $6, $6)
		RETURNING id`,
		gameID, roundNumber, round.Status, scheduledStart, scheduledEnd, now).Scan(&round.ID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return round, nil
}

// Get returns a round by id.
func (s *RoundService) Get(ctx context.Context, roundID int64) (*models.Round, error) {
	var (
		r       models.Round
		outcome models.NullChoice
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, game_id, round_number, status, scheduled_start, scheduled_end, actual_start, actual_end,
		       total_participants, total_pool_amount, winning_outcome, has_winner, result_announced_at, created_at, updated_at
		FROM game_rounds WHERE id = $1`, roundID).
		Scan(&r.ID, &r.GameID, &r.RoundNumber, &r.Status, &r.ScheduledStart, &r.ScheduledEnd, &r.ActualStart, &r.ActualEnd,
			&r.TotalParticipants, &r.TotalPoolAmount, &outcome, &r.HasWinner, &r.ResultAnnouncedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	if outcome.Valid {
		r.WinningOutcome = &outcome.Choice
	}
	return &r, nil
}

// Open transitions scheduled -> open and stamps the actual start.
func (s *RoundService) Open(ctx context.Context, roundID int64) error {
	return s.transition(ctx, roundID, `
		UPDATE game_rounds SET status = $2, actual_start = $3, updated_at = $3
		WHERE id = $1 AND status = $4`,
		roundID, models.RoundStatusOpen, time.Now(), models.RoundStatusScheduled)
}

// Close transitions open -> closed and stamps the actual end. From this point
// the entry set is frozen: submission checks status inside its own
// transaction and can no longer observe an open round.
func (s *RoundService) Close(ctx context.Context, roundID int64) error {
	return s.transition(ctx, roundID, `
		UPDATE game_rounds SET status = $2, actual_end = $3, updated_at = $3
		WHERE id = $1 AND status = $4`,
		roundID, models.RoundStatusClosed, time.Now(), models.RoundStatusOpen)
}

// BeginSettlement transitions closed -> settling. At most one concurrent
// caller succeeds; the swap also refuses rounds that already hold a winner
// record, so a settled round can never re-enter settlement.
func (s *RoundService) BeginSettlement(ctx context.Context, roundID int64) error {
	return s.transition(ctx, roundID, `
		UPDATE game_rounds SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		AND NOT EXISTS (SELECT 1 FROM winners WHERE winners.round_id = $1)`,
		roundID, models.RoundStatusSettling, time.Now(), models.RoundStatusClosed)
}

// SetOutcome persists the drawn winning outcome. Written once, before any
// payout, so a crash mid-settlement never loses the draw.
func (s *RoundService) SetOutcome(ctx context.Context, roundID int64, outcome models.Choice) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE game_rounds SET winning_outcome = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND winning_outcome IS NULL`,
		roundID, outcome, time.Now(), models.RoundStatusSettling)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return s.diagnose(ctx, roundID)
	}
	return nil
}

// Complete transitions settling -> completed, records the result and updates
// the game statistics in the same transaction.
func (s *RoundService) Complete(ctx context.Context, roundID int64, hasWinner bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `
		UPDATE game_rounds SET status = $2, has_winner = $3, result_announced_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5`,
		roundID, models.RoundStatusCompleted, hasWinner, now, models.RoundStatusSettling)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return s.diagnose(ctx, roundID)
	}

	winnerIncrement := 0
	if hasWinner {
		winnerIncrement = 1
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE games SET total_rounds_played = total_rounds_played + 1, total_winners = total_winners + $2, updated_at = $3
		WHERE id = (SELECT game_id FROM game_rounds WHERE id = $1)`,
		roundID, winnerIncrement, now); err != nil {
		return err
	}

	return tx.Commit()
}

// Cancel moves any non-terminal round to cancelled. Status change only;
// fee refunds are the settlement service's job.
func (s *RoundService) Cancel(ctx context.Context, roundID int64) error {
	return s.transition(ctx, roundID, `
		UPDATE game_rounds SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5, $6, $7)`,
		roundID, models.RoundStatusCancelled, time.Now(),
		models.RoundStatusScheduled, models.RoundStatusOpen, models.RoundStatusClosed, models.RoundStatusSettling)
}

// StalledRounds returns rounds stuck in settling with a drawn outcome, the
// signature of a crash between draw and completion. Such rounds are safe to
// resume.
func (s *RoundService) StalledRounds(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM game_rounds
		WHERE status = $1 AND winning_outcome IS NOT NULL
		ORDER BY id`, models.RoundStatusSettling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *RoundService) transition(ctx context.Context, roundID int64, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return s.diagnose(ctx, roundID)
	}
	return nil
}

// diagnose maps a lost compare-and-swap to a precise error so callers do not
// retry blindly.
func (s *RoundService) diagnose(ctx context.Context, roundID int64) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM game_rounds WHERE id = $1`, roundID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrRoundNotFound
	}
	if err != nil {
		return err
	}

	switch status {
	case models.RoundStatusSettling:
		return ErrAlreadySettling
	case models.RoundStatusCompleted:
		return ErrAlreadyCompleted
	case models.RoundStatusClosed:
		// A closed round with winner records has already paid out; only the
		// terminal status write is missing. Settlement itself cannot leave
		// the round like this, a manual status edit in the database can.
		var exists int64
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM winners WHERE round_id = $1 LIMIT 1`, roundID).Scan(&exists)
		if err == nil {
			return ErrAlreadyCompleted
		}
		if err != sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("%w: round %d is %s", ErrInvalidTransition, roundID, status)
	default:
		return fmt.Errorf("%w: round %d is %s", ErrInvalidTransition, roundID, status)
	}
}
