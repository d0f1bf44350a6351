package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

// Pub/sub channels consumed by the reporting and notification systems.
const (
	ChannelLedgerEntries = "ledger:entries"
	ChannelWinners       = "rounds:winners"
)

// AuditEvent is the envelope published for every committed ledger entry and
// winner record.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id"`
	Reference string    `json:"reference,omitempty"`
	Amount    int64     `json:"amount"`
	Details   any       `json:"details,omitempty"`
}

// Notifier publishes audit events on Redis pub/sub. Delivery is best effort:
// a publish failure is logged and never fails the financial transaction that
// produced the event. A nil Redis client degrades to log-only audit.
type Notifier struct {
	redis *redis.Client
	log   *zap.Logger
}

func NewNotifier(redisClient *redis.Client, log *zap.Logger) *Notifier {
	return &Notifier{redis: redisClient, log: log}
}

// PublishLedgerEntry announces a committed balance-affecting event.
func (n *Notifier) PublishLedgerEntry(ctx context.Context, entry *models.LedgerEntry) {
	if n == nil || entry == nil {
		return
	}
	n.publish(ctx, ChannelLedgerEntries, AuditEvent{
		Timestamp: entry.CreatedAt,
		EventType: "LEDGER_" + entry.Kind,
		UserID:    entry.UserID,
		Reference: entry.Reference,
		Amount:    entry.Amount,
		Details: map[string]int64{
			"balance_before": entry.BalanceBefore,
			"balance_after":  entry.BalanceAfter,
		},
	})
}

// PublishWinner announces a winner record, so the notification system can
// reach the winner.
func (n *Notifier) PublishWinner(ctx context.Context, winner *models.Winner) {
	if n == nil || winner == nil {
		return
	}
	n.publish(ctx, ChannelWinners, AuditEvent{
		Timestamp: winner.AnnouncedAt,
		EventType: "ROUND_WINNER",
		UserID:    winner.UserID,
		Amount:    winner.PrizeAmount,
		Details: map[string]int64{
			"round_id": winner.RoundID,
			"entry_id": winner.EntryID,
		},
	})
}

func (n *Notifier) publish(ctx context.Context, channel string, event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		n.log.Error("marshal audit event", zap.Error(err))
		return
	}

	if n.redis == nil {
		n.log.Info("audit", zap.String("channel", channel), zap.ByteString("event", data))
		return
	}

	if err := n.redis.Publish(ctx, channel, data).Err(); err != nil {
		n.log.Error("publish audit event",
			zap.String("channel", channel),
			zap.Error(err))
	}
}
