package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"atm-ledger/internal/logger"

	_ "github.com/lib/pq"
)

func NewConnection(databaseURL string) (*sql.DB, error) {
	log := logger.NewFromEnv().WithComponent("database")

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database connection established")
	return db, nil
}

// RunMigrations creates the ledger schema if it does not exist yet.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	accountsTable := `
	CREATE TABLE IF NOT EXISTS accounts (
		account_id VARCHAR(20) PRIMARY KEY,
		user_id VARCHAR(20) UNIQUE NOT NULL,
		pin CHAR(4) NOT NULL,
		holder_name TEXT NOT NULL DEFAULT '',
		account_type VARCHAR(20) NOT NULL DEFAULT 'savings',
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		balance NUMERIC(20,2) NOT NULL DEFAULT 0,
		daily_withdrawal_limit NUMERIC(20,2) NOT NULL DEFAULT 50000,
		daily_withdrawn NUMERIC(20,2) NOT NULL DEFAULT 0,
		last_withdrawal_reset TIMESTAMP WITH TIME ZONE NOT NULL,
		failed_login_count INTEGER NOT NULL DEFAULT 0,
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_access_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`

	transactionsTable := `
	CREATE TABLE IF NOT EXISTS account_transactions (
		id BIGSERIAL PRIMARY KEY,
		transaction_id UUID UNIQUE NOT NULL,
		account_id VARCHAR(20) NOT NULL REFERENCES accounts(account_id),
		type VARCHAR(20) NOT NULL,
		amount NUMERIC(20,2) NOT NULL,
		balance_after NUMERIC(20,2) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		counterparty_account_id VARCHAR(20),
		status VARCHAR(20) NOT NULL DEFAULT 'completed',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	);`

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);",
		"CREATE INDEX IF NOT EXISTS idx_account_transactions_account_id ON account_transactions(account_id, id);",
	}

	migrations := []string{accountsTable, transactionsTable}
	migrations = append(migrations, indexes...)

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}
