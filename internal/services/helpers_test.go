package services

import (
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func errNoRows() error { return sql.ErrNoRows }

func testTime() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func accountRows(userID string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "balance", "total_deposits", "total_withdrawals",
		"total_winnings", "total_spent", "version", "created_at", "updated_at",
	}).AddRow(userID, balance, int64(0), int64(0), int64(0), int64(0), 1, testTime(), testTime())
}
