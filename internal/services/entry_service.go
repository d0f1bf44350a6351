package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

// EntryService tracks submissions into open rounds. Submit debits the entry
// fee and records the entry as one transaction; on any failure nothing is
// deducted and no entry exists. The round row is locked for the duration, so
// capacity checks and the participant counters cannot race, and a concurrent
// close is ordered strictly before or after every submission.
type EntryService struct {
	db       *sql.DB
	ledger   *LedgerService
	notifier *Notifier
	log      *zap.Logger
}

func NewEntryService(db *sql.DB, ledger *LedgerService, notifier *Notifier, log *zap.Logger) *EntryService {
	return &EntryService{db: db, ledger: ledger, notifier: notifier, log: log}
}

// Submit enters a user into a round with the given choice.
func (s *EntryService) Submit(ctx context.Context, roundID int64, userID string, choice models.Choice) (*models.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		round models.Round
		game  models.Game
	)
	err = tx.QueryRowContext(ctx, `
		SELECT r.status, r.scheduled_start, r.scheduled_end, r.total_participants,
		       g.id, g.name, g.entry_fee, g.max_participants, g.match_rule, g.config
		FROM game_rounds r
		JOIN games g ON g.id = r.game_id
		WHERE r.id = $1
		FOR UPDATE OF r`, roundID).
		Scan(&round.Status, &round.ScheduledStart, &round.ScheduledEnd, &round.TotalParticipants,
			&game.ID, &game.Name, &game.EntryFee, &game.MaxParticipants, &game.MatchRule, &game.Config)
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if round.Status != models.RoundStatusOpen ||
		now.Before(round.ScheduledStart) || !now.Before(round.ScheduledEnd) {
		return nil, ErrRoundNotOpen
	}
	if round.TotalParticipants >= game.MaxParticipants {
		return nil, ErrRoundFull
	}

	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM entries WHERE round_id = $1 AND user_id = $2`, roundID, userID).Scan(&existing)
	if err == nil {
		return nil, ErrAlreadyEntered
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if err := game.Config.ValidateChoice(choice); err != nil {
		return nil, fmt.Errorf("invalid choice: %w", err)
	}
	choice = game.Config.NormalizeChoice(choice)

	entry := &models.Entry{
		EntryNumber: newEntryNumber(),
		RoundID:     roundID,
		UserID:      userID,
		Choice:      choice,
		FeePaid:     game.EntryFee,
		CreatedAt:   now,
	}

	// The entry number doubles as the fee's ledger reference, so a retried
	// submission can never charge twice for the same entry.
	ledgerEntry, err := s.ledger.DebitTx(ctx, tx, userID, game.EntryFee, models.KindEntryFee, entry.EntryNumber,
		fmt.Sprintf("Entry fee for %s - Round %d", game.Name, roundID))
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO entries (entry_number, round_id, user_id, choice, fee_paid, is_winner, prize_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, false, 0, $6)
		RETURNING id`,
		entry.EntryNumber, roundID, userID, entry.Choice, entry.FeePaid, now).Scan(&entry.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyEntered
		}
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE game_rounds SET total_participants = total_participants + 1, total_pool_amount = total_pool_amount + $2, updated_at = $3
		WHERE id = $1`,
		roundID, game.EntryFee, now); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	s.notifier.PublishLedgerEntry(ctx, ledgerEntry)
	return entry, nil
}

// ListEntries returns the frozen entry set of a round. Refused while the
// round still accepts entries, so settlement always sees a stable snapshot.
func (s *EntryService) ListEntries(ctx context.Context, roundID int64) ([]models.Entry, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM game_rounds WHERE id = $1`, roundID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == models.RoundStatusScheduled || status == models.RoundStatusOpen {
		return nil, ErrRoundNotClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_number, round_id, user_id, choice, fee_paid, is_winner, prize_amount, created_at
		FROM entries WHERE round_id = $1
		ORDER BY id`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.ID, &e.EntryNumber, &e.RoundID, &e.UserID, &e.Choice, &e.FeePaid, &e.IsWinner, &e.PrizeAmount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UserEntries returns a user's entries, most recent first.
func (s *EntryService) UserEntries(ctx context.Context, userID string, limit int) ([]models.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_number, round_id, user_id, choice, fee_paid, is_winner, prize_amount, created_at
		FROM entries WHERE user_id = $1
		ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		var e models.Entry
		if err := rows.Scan(&e.ID, &e.EntryNumber, &e.RoundID, &e.UserID, &e.Choice, &e.FeePaid, &e.IsWinner, &e.PrizeAmount, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func newEntryNumber() string {
	return "ENT-" + strings.ToUpper(uuid.New().String()[:8])
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
