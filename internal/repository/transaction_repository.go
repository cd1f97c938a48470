package repository

import (
	"context"
	"database/sql"
	"fmt"

	"atm-ledger/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// loadHistory returns accountID's transactions in insertion order.
func loadHistory(ctx context.Context, q queryer, accountID string) ([]models.Transaction, error) {
	query := `
		SELECT transaction_id, account_id, type, amount, balance_after, description,
		       counterparty_account_id, status, created_at
		FROM account_transactions
		WHERE account_id = $1
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var history []models.Transaction
	for rows.Next() {
		var (
			txn          models.Transaction
			counterparty sql.NullString
		)
		if err := rows.Scan(
			&txn.TransactionID,
			&txn.AccountID,
			&txn.Type,
			&txn.Amount,
			&txn.BalanceAfter,
			&txn.Description,
			&counterparty,
			&txn.Status,
			&txn.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.CounterpartyAccountID = counterparty.String
		history = append(history, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return history, nil
}

// insertTransactions appends txns in order. Records already stored are left untouched.
func insertTransactions(ctx context.Context, q queryer, txns []models.Transaction) error {
	query := `
		INSERT INTO account_transactions
			(transaction_id, account_id, type, amount, balance_after, description,
			 counterparty_account_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_id) DO NOTHING`

	for _, txn := range txns {
		counterparty := sql.NullString{String: txn.CounterpartyAccountID, Valid: txn.CounterpartyAccountID != ""}
		if _, err := q.ExecContext(ctx, query,
			txn.TransactionID,
			txn.AccountID,
			txn.Type,
			txn.Amount,
			txn.BalanceAfter,
			txn.Description,
			counterparty,
			txn.Status,
			txn.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.TransactionID, err)
		}
	}

	return nil
}
