package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/digkill/IMEICheckBot/internal/models"
)

// AccountRepository persists ledger accounts, one row per user.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Load(ctx context.Context) (map[int64]models.Account, error) {
	const query = `
SELECT user_id, COALESCE(username, ''), COALESCE(first_name, ''), COALESCE(last_name, ''), balance, total_queries, join_date, last_activity, query_history
FROM accounts`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make(map[int64]models.Account)
	for rows.Next() {
		var acc models.Account
		var history string
		if err := rows.Scan(&acc.UserID, &acc.Username, &acc.FirstName, &acc.LastName, &acc.Balance, &acc.TotalQueries, &acc.JoinDate, &acc.LastActivity, &history); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acc.QueryHistory, err = decodeHistory(history)
		if err != nil {
			return nil, fmt.Errorf("decode history for %d: %w", acc.UserID, err)
		}
		accounts[acc.UserID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) Save(ctx context.Context, acc models.Account) error {
	const query = `
INSERT INTO accounts (user_id, username, first_name, last_name, balance, total_queries, join_date, last_activity, query_history)
VALUES (?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    username = VALUES(username),
    first_name = VALUES(first_name),
    last_name = VALUES(last_name),
    balance = VALUES(balance),
    total_queries = VALUES(total_queries),
    last_activity = VALUES(last_activity),
    query_history = VALUES(query_history)`
	history, err := encodeHistory(acc.QueryHistory)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query,
		acc.UserID, acc.Username, acc.FirstName, acc.LastName,
		acc.Balance.StringFixed(2), acc.TotalQueries, acc.JoinDate.UTC(), acc.LastActivity.UTC(), history,
	); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func encodeHistory(history []models.QueryRecord) (string, error) {
	if history == nil {
		history = []models.QueryRecord{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeHistory(raw string) ([]models.QueryRecord, error) {
	history := []models.QueryRecord{}
	if raw == "" {
		return history, nil
	}
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, err
	}
	return history, nil
}
