package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/malamalweekly/backend/internal/models"
)

// LedgerService is the single gate around account balances. Every mutation
// reads the current balance, appends an immutable ledger entry and writes the
// new balance plus the kind-specific counter as one transaction, keyed by a
// caller-supplied unique reference for idempotency.
type LedgerService struct {
	db       *sql.DB
	notifier *Notifier
	log      *zap.Logger
}

func NewLedgerService(db *sql.DB, notifier *Notifier, log *zap.Logger) *LedgerService {
	return &LedgerService{db: db, notifier: notifier, log: log}
}

// ProvisionAccount creates a wallet for a user with zero balance. Called
// explicitly by the registration flow; no other operation creates accounts.
func (s *LedgerService) ProvisionAccount(ctx context.Context, userID string) (*models.Account, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, total_deposits, total_withdrawals, total_winnings, total_spent, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 0, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("provision account: %w", err)
	}
	return s.Account(ctx, userID)
}

// Account returns the wallet for a user.
func (s *LedgerService) Account(ctx context.Context, userID string) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, total_deposits, total_withdrawals, total_winnings, total_spent, version, created_at, updated_at
		FROM accounts WHERE user_id = $1`, userID).
		Scan(&a.UserID, &a.Balance, &a.TotalDeposits, &a.TotalWithdrawals, &a.TotalWinnings, &a.TotalSpent, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Credit adds amount to the user's balance in its own transaction.
func (s *LedgerService) Credit(ctx context.Context, userID string, amount int64, kind, reference, description string) (*models.LedgerEntry, error) {
	return s.apply(ctx, userID, amount, kind, reference, description)
}

// Debit removes amount from the user's balance in its own transaction.
// Returns ErrInsufficientFunds without any mutation if the balance cannot
// cover it.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int64, kind, reference, description string) (*models.LedgerEntry, error) {
	return s.apply(ctx, userID, -amount, kind, reference, description)
}

func (s *LedgerService) apply(ctx context.Context, userID string, amount int64, kind, reference, description string) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var entry *models.LedgerEntry
	if amount >= 0 {
		entry, err = s.CreditTx(ctx, tx, userID, amount, kind, reference, description)
	} else {
		entry, err = s.DebitTx(ctx, tx, userID, -amount, kind, reference, description)
	}
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	s.notifier.PublishLedgerEntry(ctx, entry)
	return entry, nil
}

// CreditTx credits within a caller-owned transaction, so entry submission and
// settlement can commit the balance change together with their own rows.
func (s *LedgerService) CreditTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, kind, reference, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.checkReference(ctx, tx, reference); err != nil {
		return nil, err
	}

	return s.append(ctx, tx, account, amount, kind, reference, description)
}

// DebitTx debits within a caller-owned transaction.
func (s *LedgerService) DebitTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, kind, reference, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	if err := s.checkReference(ctx, tx, reference); err != nil {
		return nil, err
	}

	return s.append(ctx, tx, account, -amount, kind, reference, description)
}

// History returns the most recent ledger entries for a user.
func (s *LedgerService) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, kind, balance_before, balance_after, reference, description, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &e.BalanceBefore, &e.BalanceAfter, &e.Reference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, userID string) (*models.Account, error) {
	var a models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, balance, version
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&a.UserID, &a.Balance, &a.Version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *LedgerService) checkReference(ctx context.Context, tx *sql.Tx, reference string) error {
	var existing int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM ledger_entries WHERE reference = $1`, reference).Scan(&existing)
	if err == nil {
		return ErrDuplicateReference
	}
	if err != sql.ErrNoRows {
		return err
	}
	return nil
}

func (s *LedgerService) append(ctx context.Context, tx *sql.Tx, account *models.Account, amount int64, kind, reference, description string) (*models.LedgerEntry, error) {
	now := time.Now()
	entry := &models.LedgerEntry{
		UserID:        account.UserID,
		Amount:        amount,
		Kind:          kind,
		BalanceBefore: account.Balance,
		BalanceAfter:  account.Balance + amount,
		Reference:     reference,
		Description:   description,
		CreatedAt:     now,
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (user_id, amount, kind, balance_before, balance_after, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.UserID, entry.Amount, entry.Kind, entry.BalanceBefore, entry.BalanceAfter, entry.Reference, entry.Description, now).
		Scan(&entry.ID)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(ctx, tx, account, entry.BalanceAfter, kind, amount, now); err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, account *models.Account, newBalance int64, kind string, amount int64, now time.Time) error {
	counter := ""
	switch kind {
	case models.KindDeposit:
		counter = "total_deposits"
	case models.KindWithdrawal:
		counter = "total_withdrawals"
	case models.KindPrize:
		counter = "total_winnings"
	case models.KindEntryFee:
		counter = "total_spent"
	case models.KindRefund:
		// refunds only restore the balance
	default:
		return fmt.Errorf("unknown ledger entry kind %q", kind)
	}

	magnitude := amount
	if magnitude < 0 {
		magnitude = -magnitude
	}

	query := `UPDATE accounts SET balance = $1, version = version + 1, updated_at = $2 WHERE user_id = $3 AND version = $4`
	args := []any{newBalance, now, account.UserID, account.Version}
	if counter != "" {
		query = fmt.Sprintf(
			`UPDATE accounts SET balance = $1, %s = %s + $2, version = version + 1, updated_at = $3 WHERE user_id = $4 AND version = $5`,
			counter, counter)
		args = []any{newBalance, magnitude, now, account.UserID, account.Version}
	}

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", account.UserID)
	}

	return nil
}
