package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
	"github.com/malamalweekly/backend/internal/rules"
)

// Settlement result kinds.
const (
	ResultNoWinner     = "no_winner"
	ResultSingleWinner = "single_winner"
	ResultSplitWinners = "split_winners"
)

// SettlementResult describes the outcome of settling one round.
type SettlementResult struct {
	RoundID        int64           `json:"round_id"`
	Kind           string          `json:"kind"`
	WinningOutcome models.Choice   `json:"winning_outcome"`
	Winners        []models.Winner `json:"winners,omitempty"`
	PrizePerWinner int64           `json:"prize_per_winner,omitempty"`
}

// SettlementService closes the loop on a round: it acquires the exclusive
// closed -> settling transition, draws and persists the winning outcome,
// resolves winners, credits prizes and records winner rows per entry in one
// transaction each, and completes the round.
//
// Each prize credit is keyed by a reference derived from the entry number, so
// resuming after a crash can never double-credit: a duplicate reference means
// that winner's transaction already committed in full.
type SettlementService struct {
	db       *sql.DB
	rounds   *RoundService
	entries  *EntryService
	games    *GameService
	ledger   *LedgerService
	notifier *Notifier
	log      *zap.Logger

	// draw and pick are swapped out in tests to force outcomes.
	draw func(models.GameConfig) (models.Choice, error)
	pick func([]models.Entry) (models.Entry, error)
}

func NewSettlementService(db *sql.DB, roundSvc *RoundService, entrySvc *EntryService, gameSvc *GameService, ledger *LedgerService, notifier *Notifier, log *zap.Logger) *SettlementService {
	return &SettlementService{
		db:       db,
		rounds:   roundSvc,
		entries:  entrySvc,
		games:    gameSvc,
		ledger:   ledger,
		notifier: notifier,
		log:      log,
		draw:     rules.Draw,
		pick:     rules.PickRandom,
	}
}

// Settle settles a closed round, drawing the winning outcome itself.
func (s *SettlementService) Settle(ctx context.Context, roundID int64) (*SettlementResult, error) {
	if err := s.rounds.BeginSettlement(ctx, roundID); err != nil {
		return nil, err
	}
	return s.run(ctx, roundID, nil)
}

// SettleWith settles a closed round with an externally supplied outcome
// (manual winner selection by an administrator).
func (s *SettlementService) SettleWith(ctx context.Context, roundID int64, outcome models.Choice) (*SettlementResult, error) {
	if err := s.rounds.BeginSettlement(ctx, roundID); err != nil {
		return nil, err
	}
	return s.run(ctx, roundID, &outcome)
}

// Resume finishes a round stuck in settling with a drawn outcome, crediting
// only winners whose prize transaction has not committed yet.
func (s *SettlementService) Resume(ctx context.Context, roundID int64) (*SettlementResult, error) {
	round, err := s.rounds.Get(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundStatusSettling {
		return nil, ErrNotSettling
	}
	if round.WinningOutcome == nil {
		// Crash before the draw committed: nothing has been paid, the
		// settlement can simply run from the top.
		s.log.Info("resuming round without drawn outcome", zap.Int64("round_id", roundID))
	}
	return s.run(ctx, roundID, nil)
}

func (s *SettlementService) run(ctx context.Context, roundID int64, forced *models.Choice) (*SettlementResult, error) {
	round, err := s.rounds.Get(ctx, roundID)
	if err != nil {
		return nil, err
	}
	game, err := s.games.Get(ctx, round.GameID)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries.ListEntries(ctx, roundID)
	if err != nil {
		return nil, err
	}

	// A round with no entries settles as no-winner, not as an error.
	if len(entries) == 0 {
		if err := s.rounds.Complete(ctx, roundID, false); err != nil {
			return nil, err
		}
		s.log.Info("round settled with no entries", zap.Int64("round_id", roundID))
		return &SettlementResult{RoundID: roundID, Kind: ResultNoWinner}, nil
	}

	outcome, winners, err := s.determineWinners(ctx, round, game, entries, forced)
	if err != nil {
		return nil, err
	}

	if len(winners) == 0 {
		if err := s.rounds.Complete(ctx, roundID, false); err != nil {
			return nil, err
		}
		s.log.Info("round settled without winner",
			zap.Int64("round_id", roundID),
			zap.Any("outcome", outcome))
		return &SettlementResult{RoundID: roundID, Kind: ResultNoWinner, WinningOutcome: outcome}, nil
	}

	// Equal split, floored to the smallest currency unit. The remainder of
	// an uneven division is not distributed.
	prizePerWinner := game.WinningAmount / int64(len(winners))

	records := make([]models.Winner, 0, len(winners))
	for _, entry := range winners {
		record, err := s.payWinner(ctx, game, entry, prizePerWinner)
		if err != nil {
			// The round stays in settling; Resume picks up from the first
			// winner whose transaction did not commit.
			return nil, fmt.Errorf("pay winner for entry %s: %w", entry.EntryNumber, err)
		}
		records = append(records, *record)
	}

	if err := s.rounds.Complete(ctx, roundID, true); err != nil {
		return nil, err
	}

	result := &SettlementResult{
		RoundID:        roundID,
		Kind:           ResultSingleWinner,
		WinningOutcome: outcome,
		Winners:        records,
		PrizePerWinner: prizePerWinner,
	}
	if len(records) > 1 {
		result.Kind = ResultSplitWinners
	}

	s.log.Info("round settled",
		zap.Int64("round_id", roundID),
		zap.String("result", result.Kind),
		zap.Int("winners", len(records)),
		zap.Int64("prize_per_winner", prizePerWinner))
	return result, nil
}

// determineWinners draws (or reuses) the winning outcome, persists it before
// any payout, and resolves the winner set.
func (s *SettlementService) determineWinners(ctx context.Context, round *models.Round, game *models.Game, entries []models.Entry, forced *models.Choice) (models.Choice, []models.Entry, error) {
	// Resume path: the outcome survived the crash, reuse it.
	if round.WinningOutcome != nil {
		outcome := *round.WinningOutcome
		winners, err := s.resolveFrom(game, outcome, entries)
		return outcome, winners, err
	}

	if forced != nil {
		if err := game.Config.ValidateChoice(*forced); err != nil {
			return models.Choice{}, nil, fmt.Errorf("invalid forced outcome: %w", err)
		}
		outcome := game.Config.NormalizeChoice(*forced)
		if err := s.rounds.SetOutcome(ctx, round.ID, outcome); err != nil {
			return models.Choice{}, nil, err
		}
		winners, err := s.resolveFrom(game, outcome, entries)
		return outcome, winners, err
	}

	if game.MatchRule == models.RuleRandom {
		// The uniform pick is the draw; the picked choice is persisted as
		// the round's auditable outcome. The paid entry is then resolved
		// from the stored choice, not taken from the raw pick: several
		// entries can hold the same choice, and a resumed settlement can
		// only recover the choice. Both paths must land on the same entry.
		picked, err := s.pick(entries)
		if err != nil {
			return models.Choice{}, nil, err
		}
		if err := s.rounds.SetOutcome(ctx, round.ID, picked.Choice); err != nil {
			return models.Choice{}, nil, err
		}
		winners, err := s.resolveFrom(game, picked.Choice, entries)
		return picked.Choice, winners, err
	}

	outcome, err := s.draw(game.Config)
	if err != nil {
		return models.Choice{}, nil, fmt.Errorf("draw outcome: %w", err)
	}
	if err := s.rounds.SetOutcome(ctx, round.ID, outcome); err != nil {
		return models.Choice{}, nil, err
	}
	winners, err := rules.Resolve(game.Config, game.MatchRule, outcome, entries)
	return outcome, winners, err
}

// resolveFrom computes the winner set for a known outcome. For the random
// rule the outcome is the stored choice of the originally picked entry; the
// first entry holding that choice is the winner, which makes recovery
// deterministic.
func (s *SettlementService) resolveFrom(game *models.Game, outcome models.Choice, entries []models.Entry) ([]models.Entry, error) {
	if game.MatchRule == models.RuleRandom {
		for _, e := range entries {
			if e.Choice.Equal(outcome, game.Config.Unordered()) {
				return []models.Entry{e}, nil
			}
		}
		return nil, nil
	}
	return rules.Resolve(game.Config, game.MatchRule, outcome, entries)
}

// payWinner credits the prize, creates the winner record and marks the entry
// as one transaction. A duplicate ledger reference means this winner was
// already paid by an earlier settlement attempt, which is treated as success.
func (s *SettlementService) payWinner(ctx context.Context, game *models.Game, entry models.Entry, prize int64) (*models.Winner, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	ledgerEntry, err := s.ledger.CreditTx(ctx, tx, entry.UserID, prize, models.KindPrize, prizeReference(entry.EntryNumber),
		fmt.Sprintf("Prize for %s - entry %s", game.Name, entry.EntryNumber))
	if errors.Is(err, ErrDuplicateReference) {
		// Credit, winner record and entry flags committed together last
		// time; read the record back and move on.
		tx.Rollback()
		s.log.Info("winner already credited, skipping",
			zap.Int64("round_id", entry.RoundID),
			zap.String("entry_number", entry.EntryNumber))
		return s.winnerByEntry(ctx, entry.ID)
	}
	if err != nil {
		return nil, err
	}

	record := &models.Winner{
		RoundID:         entry.RoundID,
		EntryID:         entry.ID,
		UserID:          entry.UserID,
		PrizeAmount:     prize,
		PrizeCredited:   true,
		PrizeCreditedAt: &now,
		AnnouncedAt:     now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO winners (round_id, entry_id, user_id, prize_amount, prize_credited, prize_credited_at, announced_at)
		VALUES ($1, $2, $3, $4, true, $5, $5)
		RETURNING id`,
		record.RoundID, record.EntryID, record.UserID, record.PrizeAmount, now).Scan(&record.ID)
	if err != nil {
		return nil, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE entries SET is_winner = true, prize_amount = $2 WHERE id = $1`,
		entry.ID, prize); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	s.notifier.PublishLedgerEntry(ctx, ledgerEntry)
	s.notifier.PublishWinner(ctx, record)
	return record, nil
}

func (s *SettlementService) winnerByEntry(ctx context.Context, entryID int64) (*models.Winner, error) {
	var w models.Winner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, round_id, entry_id, user_id, prize_amount, prize_credited, prize_credited_at, announced_at
		FROM winners WHERE entry_id = $1`, entryID).
		Scan(&w.ID, &w.RoundID, &w.EntryID, &w.UserID, &w.PrizeAmount, &w.PrizeCredited, &w.PrizeCreditedAt, &w.AnnouncedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Cancel moves a round to cancelled and refunds every entry fee. No prizes
// are paid. Refund credits are keyed by the entry number, so re-running
// cancellation after a partial failure never refunds twice.
func (s *SettlementService) Cancel(ctx context.Context, roundID int64) error {
	if err := s.rounds.Cancel(ctx, roundID); err != nil {
		// A round already cancelled may still hold unrefunded fees from an
		// interrupted earlier cancellation; re-run the refund pass for it.
		round, getErr := s.rounds.Get(ctx, roundID)
		if getErr != nil || round.Status != models.RoundStatusCancelled {
			return err
		}
	}

	entries, err := s.entries.ListEntries(ctx, roundID)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.FeePaid == 0 {
			continue
		}
		_, err := s.ledger.Credit(ctx, entry.UserID, entry.FeePaid, models.KindRefund,
			refundReference(entry.EntryNumber),
			fmt.Sprintf("Refund for cancelled round %d - entry %s", roundID, entry.EntryNumber))
		if errors.Is(err, ErrDuplicateReference) {
			continue
		}
		if err != nil {
			return fmt.Errorf("refund entry %s: %w", entry.EntryNumber, err)
		}
	}

	s.log.Info("round cancelled with fees refunded",
		zap.Int64("round_id", roundID),
		zap.Int("entries", len(entries)))
	return nil
}

// prizeReference derives the idempotency key for a prize credit from the
// entry's unique number. The fee debit uses the bare entry number, so the
// two ledger entries of one entry never collide.
func prizeReference(entryNumber string) string {
	return "PRIZE-" + entryNumber
}

func refundReference(entryNumber string) string {
	return "REFUND-" + entryNumber
}
