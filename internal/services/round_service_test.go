package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

func newRoundFixture(t *testing.T) (*RoundService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewRoundService(db, zap.NewNop()), mock, func() { db.Close() }
}

func expectStatus(mock sqlmock.Sqlmock, roundID int64, status string) {
	mock.ExpectQuery("SELECT status FROM game_rounds").
		WithArgs(roundID).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(status))
}

func TestRoundService_Create(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM games").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.GameStatusActive))
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(8))
	mock.ExpectQuery("INSERT INTO game_rounds").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(101)))
	mock.ExpectCommit()

	start := testTime()
	round, err := svc.Create(context.Background(), 3, start, start.Add(2*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(101), round.ID)
	assert.Equal(t, 8, round.RoundNumber)
	assert.Equal(t, models.RoundStatusScheduled, round.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_CreateRejectsInactiveGame(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM games").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.GameStatusMaintenance))
	mock.ExpectRollback()

	start := testTime()
	_, err := svc.Create(context.Background(), 3, start, start.Add(time.Hour))
	assert.ErrorContains(t, err, "not active")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_CreateRejectsInvertedWindow(t *testing.T) {
	svc, _, cleanup := newRoundFixture(t)
	defer cleanup()

	start := testTime()
	_, err := svc.Create(context.Background(), 3, start, start)
	assert.Error(t, err)
}

func TestRoundService_OpenAndClose(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.Open(context.Background(), 9))

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.Close(context.Background(), 9))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_BeginSettlementLostRace(t *testing.T) {
	t.Run("another settler holds the round", func(t *testing.T) {
		svc, mock, cleanup := newRoundFixture(t)
		defer cleanup()

		mock.ExpectExec("UPDATE game_rounds SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		expectStatus(mock, 9, models.RoundStatusSettling)

		err := svc.BeginSettlement(context.Background(), 9)
		assert.ErrorIs(t, err, ErrAlreadySettling)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("round already completed", func(t *testing.T) {
		svc, mock, cleanup := newRoundFixture(t)
		defer cleanup()

		mock.ExpectExec("UPDATE game_rounds SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		expectStatus(mock, 9, models.RoundStatusCompleted)

		err := svc.BeginSettlement(context.Background(), 9)
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed round with winner records already paid out", func(t *testing.T) {
		svc, mock, cleanup := newRoundFixture(t)
		defer cleanup()

		mock.ExpectExec("UPDATE game_rounds SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		expectStatus(mock, 9, models.RoundStatusClosed)
		mock.ExpectQuery("SELECT 1 FROM winners").
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

		err := svc.BeginSettlement(context.Background(), 9)
		assert.ErrorIs(t, err, ErrAlreadyCompleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("round still open", func(t *testing.T) {
		svc, mock, cleanup := newRoundFixture(t)
		defer cleanup()

		mock.ExpectExec("UPDATE game_rounds SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		expectStatus(mock, 9, models.RoundStatusOpen)

		err := svc.BeginSettlement(context.Background(), 9)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("round missing", func(t *testing.T) {
		svc, mock, cleanup := newRoundFixture(t)
		defer cleanup()

		mock.ExpectExec("UPDATE game_rounds SET status").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status FROM game_rounds").
			WithArgs(int64(9)).
			WillReturnError(errNoRows())

		err := svc.BeginSettlement(context.Background(), 9)
		assert.ErrorIs(t, err, ErrRoundNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRoundService_SetOutcomeWriteOnce(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	outcome := models.Choice{Numbers: []int{12, 45, 67, 23, 89}}

	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.SetOutcome(context.Background(), 9, outcome))

	// Second write loses the IS NULL guard and surfaces the round state.
	mock.ExpectExec("UPDATE game_rounds SET winning_outcome").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectStatus(mock, 9, models.RoundStatusSettling)

	err := svc.SetOutcome(context.Background(), 9, outcome)
	assert.ErrorIs(t, err, ErrAlreadySettling)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_Complete(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE games SET total_rounds_played").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.Complete(context.Background(), 9, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_CancelTerminalRound(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	mock.ExpectExec("UPDATE game_rounds SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectStatus(mock, 9, models.RoundStatusCancelled)

	err := svc.Cancel(context.Background(), 9)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_Get(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	now := testTime()
	rows := sqlmock.NewRows([]string{
		"id", "game_id", "round_number", "status", "scheduled_start", "scheduled_end",
		"actual_start", "actual_end", "total_participants", "total_pool_amount",
		"winning_outcome", "has_winner", "result_announced_at", "created_at", "updated_at",
	}).AddRow(int64(9), int64(3), 8, models.RoundStatusCompleted, now, now,
		now, now, 4, int64(200),
		[]byte(`{"numbers":[12,45,67,23,89]}`), true, now, now, now)
	mock.ExpectQuery("SELECT id, game_id, round_number").
		WithArgs(int64(9)).
		WillReturnRows(rows)

	round, err := svc.Get(context.Background(), 9)
	require.NoError(t, err)
	require.NotNil(t, round.WinningOutcome)
	assert.Equal(t, []int{12, 45, 67, 23, 89}, round.WinningOutcome.Numbers)
	assert.True(t, round.Terminal())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundService_StalledRounds(t *testing.T) {
	svc, mock, cleanup := newRoundFixture(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id FROM game_rounds").
		WithArgs(models.RoundStatusSettling).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)).AddRow(int64(9)))

	ids, err := svc.StalledRounds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
