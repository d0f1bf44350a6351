package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

func TestNotifier_PublishLedgerEntry(t *testing.T) {
	client, mock := redismock.NewClientMock()
	notifier := NewNotifier(client, zap.NewNop())

	entry := &models.LedgerEntry{
		ID:            42,
		UserID:        "user-1",
		Amount:        200,
		Kind:          models.KindDeposit,
		BalanceBefore: 500,
		BalanceAfter:  700,
		Reference:     "DEP-abc123",
		CreatedAt:     testTime(),
	}

	expected, err := json.Marshal(AuditEvent{
		Timestamp: entry.CreatedAt,
		EventType: "LEDGER_deposit",
		UserID:    "user-1",
		Reference: "DEP-abc123",
		Amount:    200,
		Details: map[string]int64{
			"balance_before": 500,
			"balance_after":  700,
		},
	})
	require.NoError(t, err)

	mock.ExpectPublish(ChannelLedgerEntries, expected).SetVal(1)

	notifier.PublishLedgerEntry(context.Background(), entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifier_PublishWinner(t *testing.T) {
	client, mock := redismock.NewClientMock()
	notifier := NewNotifier(client, zap.NewNop())

	winner := &models.Winner{
		ID:          1,
		RoundID:     9,
		EntryID:     2,
		UserID:      "user-2",
		PrizeAmount: 10000,
		AnnouncedAt: testTime(),
	}

	expected, err := json.Marshal(AuditEvent{
		Timestamp: winner.AnnouncedAt,
		EventType: "ROUND_WINNER",
		UserID:    "user-2",
		Amount:    10000,
		Details: map[string]int64{
			"round_id": 9,
			"entry_id": 2,
		},
	})
	require.NoError(t, err)

	mock.ExpectPublish(ChannelWinners, expected).SetVal(1)

	notifier.PublishWinner(context.Background(), winner)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifier_NilClientDegradesToLog(t *testing.T) {
	notifier := NewNotifier(nil, zap.NewNop())

	// Must not panic and must not fail the caller.
	notifier.PublishLedgerEntry(context.Background(), &models.LedgerEntry{UserID: "user-1"})
	notifier.PublishWinner(context.Background(), nil)

	var missing *Notifier
	missing.PublishLedgerEntry(context.Background(), &models.LedgerEntry{})
}
