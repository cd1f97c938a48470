package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"atm-ledger/internal/logger"
	"atm-ledger/internal/validator"
	"atm-ledger/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const accountColumns = `
	account_id, user_id, pin, holder_name, account_type, status, balance,
	daily_withdrawal_limit, daily_withdrawn, last_withdrawal_reset,
	failed_login_count, locked, created_at, last_access_at`

type postgresAccountRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPostgresAccountRepository returns an AccountRepository whose per-account
// locking is done with row locks (SELECT ... FOR UPDATE).
func NewPostgresAccountRepository(db *sql.DB) AccountRepository {
	return &postgresAccountRepository{
		db:     db,
		logger: logger.NewFromEnv(),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.AccountID,
		&account.UserID,
		&account.PIN,
		&account.HolderName,
		&account.AccountType,
		&account.Status,
		&account.Balance,
		&account.DailyWithdrawalLimit,
		&account.DailyWithdrawn,
		&account.LastWithdrawalReset,
		&account.FailedLoginCount,
		&account.Locked,
		&account.CreatedAt,
		&account.LastAccessAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return account, nil
}

// getAccount loads one account with its history. column must be a trusted
// column name; lock appends FOR UPDATE.
func (r *postgresAccountRepository) getAccount(ctx context.Context, q queryer, column, value string, lock bool) (*models.Account, error) {
	query := fmt.Sprintf("SELECT %s FROM accounts WHERE %s = $1", accountColumns, column)
	if lock {
		query += " FOR UPDATE"
	}

	account, err := scanAccount(q.QueryRowContext(ctx, query, value))
	if err != nil {
		return nil, err
	}

	account.History, err = loadHistory(ctx, q, account.AccountID)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *postgresAccountRepository) readOnly(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *postgresAccountRepository) FindByUserID(ctx context.Context, userID string) (*models.Account, error) {
	var account *models.Account
	err := r.readOnly(ctx, func(tx *sql.Tx) error {
		var err error
		account, err = r.getAccount(ctx, tx, "user_id", userID, false)
		return err
	})
	return account, err
}

func (r *postgresAccountRepository) FindByAccountID(ctx context.Context, accountID string) (*models.Account, error) {
	var account *models.Account
	err := r.readOnly(ctx, func(tx *sql.Tx) error {
		var err error
		account, err = r.getAccount(ctx, tx, "account_id", accountID, false)
		return err
	})
	return account, err
}

func (r *postgresAccountRepository) AccountExists(ctx context.Context, accountID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE account_id = $1)", accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account existence: %w", err)
	}
	return exists, nil
}

func (r *postgresAccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.readOnly(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM accounts ORDER BY account_id", accountColumns))
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		for rows.Next() {
			account, err := scanAccount(rows)
			if err != nil {
				rows.Close()
				return err
			}
			accounts = append(accounts, account)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to iterate accounts: %w", err)
		}
		rows.Close()

		for _, account := range accounts {
			if account.History, err = loadHistory(ctx, tx, account.AccountID); err != nil {
				return err
			}
		}
		return nil
	})
	return accounts, err
}

// writeAccount upserts every mutable column of account. user_id is never updated.
func writeAccount(ctx context.Context, q queryer, account *models.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (account_id) DO UPDATE SET
			pin = EXCLUDED.pin,
			holder_name = EXCLUDED.holder_name,
			account_type = EXCLUDED.account_type,
			status = EXCLUDED.status,
			balance = EXCLUDED.balance,
			daily_withdrawal_limit = EXCLUDED.daily_withdrawal_limit,
			daily_withdrawn = EXCLUDED.daily_withdrawn,
			last_withdrawal_reset = EXCLUDED.last_withdrawal_reset,
			failed_login_count = EXCLUDED.failed_login_count,
			locked = EXCLUDED.locked,
			last_access_at = EXCLUDED.last_access_at`

	_, err := q.ExecContext(ctx, query,
		account.AccountID,
		account.UserID,
		account.PIN,
		account.HolderName,
		account.AccountType,
		account.Status,
		account.Balance,
		account.DailyWithdrawalLimit,
		account.DailyWithdrawn,
		account.LastWithdrawalReset,
		account.FailedLoginCount,
		account.Locked,
		account.CreatedAt,
		account.LastAccessAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateAccount, pqErr.Constraint)
		}
		return fmt.Errorf("failed to write account %s: %w", account.AccountID, err)
	}
	return nil
}

func (r *postgresAccountRepository) Save(ctx context.Context, account *models.Account) error {
	entry := r.logger.WithFields(map[string]interface{}{
		"component":  "postgres_account_repository",
		"account_id": validator.MaskAccountID(account.AccountID),
	})

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingUserID string
	err = tx.QueryRowContext(ctx, "SELECT user_id FROM accounts WHERE account_id = $1 FOR UPDATE", account.AccountID).Scan(&existingUserID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to check account existence: %w", err)
	case existingUserID != account.UserID:
		return ErrImmutableIdentity
	}

	if err := writeAccount(ctx, tx, account); err != nil {
		entry.Error("Failed to save account: %v", err)
		return err
	}
	if err := insertTransactions(ctx, tx, account.History); err != nil {
		entry.Error("Failed to save account history: %v", err)
		return err
	}

	return tx.Commit()
}

func (r *postgresAccountRepository) Authenticate(ctx context.Context, userID, pin string) (*models.Account, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := r.getAccount(ctx, tx, "user_id", userID, true)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	entry := r.logger.WithFields(map[string]interface{}{
		"component":  "postgres_account_repository",
		"account_id": validator.MaskAccountID(account.AccountID),
	})

	if account.Locked {
		entry.Warn("Login attempt on locked account")
		return nil, ErrAccountLocked
	}

	matched := account.PIN == pin
	if matched {
		account.ResetFailedLogins()
	} else {
		account.RecordFailedLogin()
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE accounts SET failed_login_count = $1, locked = $2 WHERE account_id = $3",
		account.FailedLoginCount, account.Locked, account.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to update login counters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit login counters: %w", err)
	}

	switch {
	case matched:
		return account, nil
	case account.Locked:
		entry.Warn("Account locked after %d failed login attempts", account.FailedLoginCount)
		return nil, ErrAccountLocked
	default:
		entry.Info("Failed login attempt %d of %d", account.FailedLoginCount, models.MaxFailedLoginAttempts)
		return nil, ErrInvalidCredentials
	}
}

func (r *postgresAccountRepository) Unlock(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE accounts SET failed_login_count = 0, locked = FALSE WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// commitLocked writes account and the history entries appended after
// index from within tx.
func commitLocked(ctx context.Context, tx *sql.Tx, account *models.Account, from int) error {
	if err := writeAccount(ctx, tx, account); err != nil {
		return err
	}
	if len(account.History) > from {
		if err := insertTransactions(ctx, tx, account.History[from:]); err != nil {
			return err
		}
	}
	return nil
}

func (r *postgresAccountRepository) Update(ctx context.Context, accountID string, fn func(account *models.Account) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account, err := r.getAccount(ctx, tx, "account_id", accountID, true)
	if err != nil {
		return err
	}
	userID, historyLen := account.UserID, len(account.History)

	if err := fn(account); err != nil {
		return err
	}
	if account.AccountID != accountID || account.UserID != userID {
		return ErrImmutableIdentity
	}

	if err := commitLocked(ctx, tx, account, historyLen); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdatePair follows the same ordering rule as the in-memory store: the lower
// account id is locked first so two transfers in opposite directions cannot deadlock.
func (r *postgresAccountRepository) UpdatePair(ctx context.Context, firstID, secondID string, fn func(first, second *models.Account) error) error {
	if firstID == secondID {
		return ErrSameAccountUpdate
	}

	entry := r.logger.WithFields(map[string]interface{}{
		"component": "postgres_account_repository",
		"first_id":  validator.MaskAccountID(firstID),
		"second_id": validator.MaskAccountID(secondID),
	})

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		entry.Error("Failed to begin transaction: %v", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockOrder := []string{firstID, secondID}
	if secondID < firstID {
		lockOrder = []string{secondID, firstID}
	}

	locked := make(map[string]*models.Account, 2)
	for _, id := range lockOrder {
		account, err := r.getAccount(ctx, tx, "account_id", id, true)
		if err != nil {
			return fmt.Errorf("%w: %s", err, id)
		}
		locked[id] = account
	}

	first, second := locked[firstID], locked[secondID]
	firstLen, secondLen := len(first.History), len(second.History)

	if err := fn(first, second); err != nil {
		return err
	}
	if first.AccountID != firstID || second.AccountID != secondID {
		return ErrImmutableIdentity
	}

	if err := commitLocked(ctx, tx, first, firstLen); err != nil {
		entry.Error("Failed to update first account: %v", err)
		return err
	}
	if err := commitLocked(ctx, tx, second, secondLen); err != nil {
		entry.Error("Failed to update second account: %v", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		entry.Error("Failed to commit paired update: %v", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	entry.Debug("Paired update committed")
	return nil
}
