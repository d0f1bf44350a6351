package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

func newSettlementFixture(t *testing.T) (*SettlementService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	log := zap.NewNop()
	notifier := NewNotifier(nil, log)
	ledger := NewLedgerService(db, notifier, log)
	rounds := NewRoundService(db, log)
	entries := NewEntryService(db, ledger, notifier, log)
	games := NewGameService(db, log)
	svc := NewSettlementService(db, rounds, entries, games, ledger, notifier, log)
	return svc, mock, func() { db.Close() }
}

func expectGetRound(mock sqlmock.Sqlmock, roundID int64, status string, outcomeJSON any) {
	now := testTime()
	mock.ExpectQuery("SELECT id, game_id, round_number").
		WithArgs(roundID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "game_id", "round_number", "status", "scheduled_start", "scheduled_end",
			"actual_start", "actual_end", "total_participants", "total_pool_amount",
			"winning_outcome", "has_winner", "result_announced_at", "created_at", "updated_at",
		}).AddRow(roundID, int64(3), 1, status, now, now,
			now, now, 2, int64(100),
			outcomeJSON, false, nil, now, now))
}

func expectGetGame(mock sqlmock.Sqlmock, gameID int64, matchRule string, winningAmount int64, configJSON string) {
	now := testTime()
	mock.ExpectQuery("SELECT id, name, description").
		WithArgs(gameID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "status", "entry_fee", "winning_amount",
			"min_participants", "max_participants", "match_rule", "config",
			"total_rounds_played", "total_winners", "created_at", "updated_at",
		}).AddRow(gameID, "Number Match", "", models.GameStatusActive, int64(50), winningAmount,
			2, 100, matchRule, []byte(configJSON),
			0, 0, now, now))
}

func expectFrozenEntries(mock sqlmock.Sqlmock, roundID int64, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT status FROM game_rounds").
		WithArgs(roundID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.RoundStatusSettling))
	mock.ExpectQuery("SELECT id, entry_number").
		WithArgs(roundID).
		WillReturnRows(rows)
}

func expectPayWinner(mock sqlmock.Sqlmock, userID string, balance int64, winnerID int64) {
	mock.ExpectBegin()
	expectLockAccount(mock, userID, balance, 1)
	mock.ExpectQuery("SELECT id FROM ledger_entries WHERE reference").
		WillReturnError(errNoRows())
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(winnerID * 100))
	mock.ExpectExec("UPDATE accounts SET balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO winners").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(winnerID))
	mock.ExpectExec("UPDATE entries SET is_winner").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectComplete(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE games SET total_rounds_played").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

const numbersGameConfig = `{"archetype":"numbers","numbers":{"count":5,"min":0,"max":99,"allow_duplicates":true}}`

func TestSettlementService_SingleWinner(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	svc.draw = func(models.GameConfig) (models.Choice, error) {
		return models.Choice{Numbers: []int{12, 45, 67, 23, 89}}, nil
	}

	// closed -> settling
	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	expectGetGame(mock, 3, models.RuleExactMatch, 10000, numbersGameConfig)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"numbers":[1,2,3,4,5]}`},
		entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"numbers":[12,45,67,23,89]}`},
	))

	// outcome persisted before any payout
	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectPayWinner(mock, "user-2", 450, 1)
	expectComplete(mock)

	result, err := svc.Settle(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ResultSingleWinner, result.Kind)
	assert.Equal(t, int64(10000), result.PrizePerWinner)
	require.Len(t, result.Winners, 1)
	assert.Equal(t, "user-2", result.Winners[0].UserID)
	assert.Equal(t, int64(10000), result.Winners[0].PrizeAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_NoWinner(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	svc.draw = func(models.GameConfig) (models.Choice, error) {
		return models.Choice{Numbers: []int{9, 9, 9, 9, 9}}, nil
	}

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	expectGetGame(mock, 3, models.RuleExactMatch, 10000, numbersGameConfig)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"numbers":[1,2,3,4,5]}`},
	))

	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectComplete(mock)

	result, err := svc.Settle(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ResultNoWinner, result.Kind)
	assert.Empty(t, result.Winners)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_NoEntries(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	expectGetGame(mock, 3, models.RuleExactMatch, 10000, numbersGameConfig)
	expectFrozenEntries(mock, 9, entryRows())

	expectComplete(mock)

	result, err := svc.Settle(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, ResultNoWinner, result.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_SplitWinnersFloorsPrize(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	svc.draw = func(models.GameConfig) (models.Choice, error) {
		return models.Choice{Numbers: []int{12, 45, 67, 23, 89}}, nil
	}

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	// 10001 split two ways floors to 5000 each; the odd credit stays
	// undistributed.
	expectGetGame(mock, 3, models.RuleExactMatch, 10001, numbersGameConfig)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"numbers":[12,45,67,23,89]}`},
		entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"numbers":[12,45,67,23,89]}`},
	))

	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectPayWinner(mock, "user-1", 450, 1)
	expectPayWinner(mock, "user-2", 450, 2)
	expectComplete(mock)

	result, err := svc.Settle(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ResultSplitWinners, result.Kind)
	assert.Equal(t, int64(5000), result.PrizePerWinner)
	require.Len(t, result.Winners, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_RandomRulePersistsPickedChoice(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	svc.pick = func(entries []models.Entry) (models.Entry, error) {
		return entries[0], nil
	}

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	expectGetGame(mock, 3, models.RuleRandom, 10000,
		`{"archetype":"text","text":{"min_length":1,"max_length":50}}`)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"picks":["lucky"]}`},
		entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"picks":["seven"]}`},
	))

	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectPayWinner(mock, "user-1", 0, 1)
	expectComplete(mock)

	result, err := svc.Settle(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ResultSingleWinner, result.Kind)
	assert.Equal(t, []string{"lucky"}, result.WinningOutcome.Picks)
	assert.Equal(t, "user-1", result.Winners[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_ResumeSkipsPaidWinner(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	outcome := []byte(`{"numbers":[12,45,67,23,89]}`)

	// Resume checks the round status first.
	expectGetRound(mock, 9, models.RoundStatusSettling, outcome)

	// run: the stored outcome short-circuits the draw.
	expectGetRound(mock, 9, models.RoundStatusSettling, outcome)
	expectGetGame(mock, 3, models.RuleExactMatch, 10000, numbersGameConfig)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"numbers":[12,45,67,23,89]}`, isWinner: true, prize: 10000},
	))

	// The prize credit committed before the crash: the duplicate reference
	// rolls the transaction back and the existing record is read back.
	mock.ExpectBegin()
	expectLockAccount(mock, "user-2", 10450, 2)
	mock.ExpectQuery("SELECT id FROM ledger_entries WHERE reference").
		WithArgs("PRIZE-ENT-BBBB2222").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT id, round_id, entry_id").
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "round_id", "entry_id", "user_id", "prize_amount",
			"prize_credited", "prize_credited_at", "announced_at",
		}).AddRow(int64(1), int64(9), int64(2), "user-2", int64(10000), true, testTime(), testTime()))

	expectComplete(mock)

	result, err := svc.Resume(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ResultSingleWinner, result.Kind)
	assert.Equal(t, int64(10000), result.Winners[0].PrizeAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_RandomRuleSharedChoicePaysFirstHolder(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	// Two users picked the same text. The outcome only records the choice,
	// so the prize must go to the first entry holding it regardless of
	// which entry the uniform pick landed on.
	svc.pick = func(entries []models.Entry) (models.Entry, error) {
		return entries[1], nil
	}

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	expectGetGame(mock, 3, models.RuleRandom, 10000,
		`{"archetype":"text","text":{"min_length":1,"max_length":50}}`)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"picks":["lucky"]}`},
		entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"picks":["lucky"]}`},
	))

	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectPayWinner(mock, "user-1", 0, 1)
	expectComplete(mock)

	result, err := svc.Settle(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, ResultSingleWinner, result.Kind)
	require.Len(t, result.Winners, 1)
	assert.Equal(t, "user-1", result.Winners[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_ResumeSharedChoicePaysNoSecondPrize(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	outcome := []byte(`{"picks":["lucky"]}`)

	expectGetRound(mock, 9, models.RoundStatusSettling, outcome)

	expectGetRound(mock, 9, models.RoundStatusSettling, outcome)
	expectGetGame(mock, 3, models.RuleRandom, 10000,
		`{"archetype":"text","text":{"min_length":1,"max_length":50}}`)
	// user-2 shares the winning choice but was never the winner; the first
	// holder was paid before the crash.
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"picks":["lucky"]}`, isWinner: true, prize: 10000},
		entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"picks":["lucky"]}`},
	))

	mock.ExpectBegin()
	expectLockAccount(mock, "user-1", 10000, 2)
	mock.ExpectQuery("SELECT id FROM ledger_entries WHERE reference").
		WithArgs("PRIZE-ENT-AAAA1111").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT id, round_id, entry_id").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "round_id", "entry_id", "user_id", "prize_amount",
			"prize_credited", "prize_credited_at", "announced_at",
		}).AddRow(int64(1), int64(9), int64(1), "user-1", int64(10000), true, testTime(), testTime()))

	expectComplete(mock)

	result, err := svc.Resume(context.Background(), 9)
	require.NoError(t, err)

	require.Len(t, result.Winners, 1)
	assert.Equal(t, "user-1", result.Winners[0].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_CancelRefundsFees(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT status FROM game_rounds").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.RoundStatusCancelled))
	mock.ExpectQuery("SELECT id, entry_number").
		WithArgs(int64(9)).
		WillReturnRows(entryRows(
			entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"numbers":[1,2,3,4,5]}`},
			entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"numbers":[6,7,8,9,10]}`},
		))

	for _, userID := range []string{"user-1", "user-2"} {
		mock.ExpectBegin()
		expectLockAccount(mock, userID, 0, 1)
		mock.ExpectQuery("SELECT id FROM ledger_entries WHERE reference").
			WillReturnError(errNoRows())
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
		mock.ExpectExec("UPDATE accounts SET balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, svc.Cancel(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_CancelRetrySkipsRefunded(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	// The round was cancelled by an interrupted earlier call: the status
	// swap loses, but the refund pass still runs for unrefunded fees.
	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectStatus(mock, 9, models.RoundStatusCancelled)
	expectGetRound(mock, 9, models.RoundStatusCancelled, nil)

	mock.ExpectQuery("SELECT status FROM game_rounds").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.RoundStatusCancelled))
	mock.ExpectQuery("SELECT id, entry_number").
		WithArgs(int64(9)).
		WillReturnRows(entryRows(
			entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"numbers":[1,2,3,4,5]}`},
			entryRow{id: 2, number: "ENT-BBBB2222", userID: "user-2", choice: `{"numbers":[6,7,8,9,10]}`},
		))

	// user-1 was refunded before the interruption.
	mock.ExpectBegin()
	expectLockAccount(mock, "user-1", 50, 2)
	mock.ExpectQuery("SELECT id FROM ledger_entries WHERE reference").
		WithArgs("REFUND-ENT-AAAA1111").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectLockAccount(mock, "user-2", 0, 1)
	mock.ExpectQuery("SELECT id FROM ledger_entries WHERE reference").
		WithArgs("REFUND-ENT-BBBB2222").
		WillReturnError(errNoRows())
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(32)))
	mock.ExpectExec("UPDATE accounts SET balance").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Cancel(context.Background(), 9))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_ResumeRequiresSettling(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	expectGetRound(mock, 9, models.RoundStatusCompleted, nil)

	_, err := svc.Resume(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotSettling)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_SettleLostRace(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectStatus(mock, 9, models.RoundStatusSettling)

	_, err := svc.Settle(context.Background(), 9)
	assert.ErrorIs(t, err, ErrAlreadySettling)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlementService_SettleWithInvalidOutcome(t *testing.T) {
	svc, mock, cleanup := newSettlementFixture(t)
	defer cleanup()

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	expectGetRound(mock, 9, models.RoundStatusSettling, nil)
	expectGetGame(mock, 3, models.RuleExactMatch, 10000, numbersGameConfig)
	expectFrozenEntries(mock, 9, entryRows(
		entryRow{id: 1, number: "ENT-AAAA1111", userID: "user-1", choice: `{"numbers":[1,2,3,4,5]}`},
	))

	_, err := svc.SettleWith(context.Background(), 9, models.Choice{Numbers: []int{1}})
	assert.ErrorContains(t, err, "invalid forced outcome")
	assert.NoError(t, mock.ExpectationsWereMet())
}
