package repository

import (
	"context"
	"errors"
	"time"

	"atm-ledger/models"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountLocked      = errors.New("account is locked")
	ErrInvalidCredentials = errors.New("invalid user id or pin")
	ErrDuplicateAccount   = errors.New("account already exists")
	ErrImmutableIdentity  = errors.New("account and user ids cannot change")
	ErrSameAccountUpdate  = errors.New("paired update needs two distinct accounts")
)

// AccountRepository owns the canonical account records. Every read returns a
// copy; mutations go through Save, Authenticate, Unlock or the Update helpers,
// which run a callback against a checked-out copy while holding that
// account's lock and commit the copy only when the callback succeeds.
type AccountRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Account, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.Account, error)
	AccountExists(ctx context.Context, accountID string) (bool, error)
	List(ctx context.Context) ([]*models.Account, error)

	// Save upserts the full account state, history included.
	Save(ctx context.Context, account *models.Account) error

	// Authenticate checks pin for userID. A locked account fails with
	// ErrAccountLocked without touching its counters. A mismatch increments
	// the failure counter and fails with ErrInvalidCredentials, or with
	// ErrAccountLocked if that attempt reached the lockout threshold. A match
	// clears the counter and returns the account.
	Authenticate(ctx context.Context, userID, pin string) (*models.Account, error)

	// Unlock clears the lock and failure counter for userID.
	Unlock(ctx context.Context, userID string) error

	Update(ctx context.Context, accountID string, fn func(account *models.Account) error) error

	// UpdatePair locks both accounts in ascending account id order and passes
	// them to fn in argument order. Both are committed together or not at all.
	UpdatePair(ctx context.Context, firstID, secondID string, fn func(first, second *models.Account) error) error
}

// SampleAccounts returns the demo accounts the console provisions by default.
func SampleAccounts(now time.Time, dailyLimit decimal.Decimal) []*models.Account {
	accounts := []*models.Account{
		models.NewAccount("ACC1001", "user1", "1234", "Suraj Gupta", decimal.RequireFromString("50000.00"), now),
		models.NewAccount("ACC1002", "user2", "5678", "Virat Kohli", decimal.RequireFromString("75000.00"), now),
		models.NewAccount("ACC1003", "user3", "9012", "Amit Patel", decimal.RequireFromString("25000.50"), now),
		models.NewAccount("ACC1004", "user4", "3456", "Samrudhi Pitale", decimal.RequireFromString("100000.00"), now),
		models.NewAccount("ACC1005", "admin", "0000", "System Admin", decimal.RequireFromString("1000000.00"), now),
	}
	for _, a := range accounts {
		a.DailyWithdrawalLimit = dailyLimit
	}
	return accounts
}
