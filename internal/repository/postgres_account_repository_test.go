package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"atm-ledger/internal/repository"
	"atm-ledger/internal/testutil"
	"atm-ledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresRepository(t *testing.T) (repository.AccountRepository, *testutil.TestDatabase) {
	t.Helper()

	tdb := testutil.SetupPostgres(t)
	repo := repository.NewPostgresAccountRepository(tdb.DB)

	now := time.Now()
	ctx := context.Background()
	for _, a := range repository.SampleAccounts(now, models.DefaultDailyWithdrawalLimit) {
		require.NoError(t, repo.Save(ctx, a))
	}
	return repo, tdb
}

func TestPostgresSaveAndFind(t *testing.T) {
	repo, _ := setupPostgresRepository(t)
	ctx := context.Background()

	account, err := repo.FindByUserID(ctx, "user3")
	require.NoError(t, err)
	assert.Equal(t, "ACC1003", account.AccountID)
	assert.Equal(t, "Amit Patel", account.HolderName)
	assert.Equal(t, models.AccountStatusActive, account.Status)
	assert.Equal(t, models.AccountTypeSavings, account.AccountType)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("25000.50")))
	assert.Empty(t, account.History)

	_, err = repo.FindByAccountID(ctx, "ZZZZZ")
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	exists, err := repo.AccountExists(ctx, "ACC1005")
	require.NoError(t, err)
	assert.True(t, exists)

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 5)
	assert.Equal(t, "ACC1001", accounts[0].AccountID)

	clash := models.NewAccount("ACC9009", "user1", "2468", "Clash", decimal.NewFromInt(10), time.Now())
	assert.ErrorIs(t, repo.Save(ctx, clash), repository.ErrDuplicateAccount)

	account.UserID = "renamed"
	assert.ErrorIs(t, repo.Save(ctx, account), repository.ErrImmutableIdentity)
}

func TestPostgresAuthenticateLockout(t *testing.T) {
	repo, _ := setupPostgresRepository(t)
	ctx := context.Background()

	_, err := repo.Authenticate(ctx, "user2", "0000")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)
	_, err = repo.Authenticate(ctx, "user2", "0000")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)
	_, err = repo.Authenticate(ctx, "user2", "0000")
	assert.ErrorIs(t, err, repository.ErrAccountLocked)

	_, err = repo.Authenticate(ctx, "user2", "5678")
	assert.ErrorIs(t, err, repository.ErrAccountLocked)

	account, err := repo.FindByUserID(ctx, "user2")
	require.NoError(t, err)
	assert.True(t, account.Locked)
	assert.Equal(t, 3, account.FailedLoginCount)

	require.NoError(t, repo.Unlock(ctx, "user2"))
	account, err = repo.Authenticate(ctx, "user2", "5678")
	require.NoError(t, err)
	assert.Equal(t, "ACC1002", account.AccountID)

	_, err = repo.Authenticate(ctx, "ghost", "5678")
	assert.ErrorIs(t, err, repository.ErrInvalidCredentials)
	assert.ErrorIs(t, repo.Unlock(ctx, "ghost"), repository.ErrAccountNotFound)
}

func TestPostgresConcurrentFailedLogins(t *testing.T) {
	repo, _ := setupPostgresRepository(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Authenticate(ctx, "user4", "0000")
			assert.True(t, errors.Is(err, repository.ErrInvalidCredentials) || errors.Is(err, repository.ErrAccountLocked), "unexpected: %v", err)
		}()
	}
	wg.Wait()

	account, err := repo.FindByUserID(ctx, "user4")
	require.NoError(t, err)
	assert.Equal(t, models.MaxFailedLoginAttempts, account.FailedLoginCount, "row lock must stop the counter at the threshold")
	assert.True(t, account.Locked)
}

func TestPostgresUpdatePersistsHistory(t *testing.T) {
	repo, _ := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now()

	err := repo.Update(ctx, "ACC1001", func(a *models.Account) error {
		a.Balance = a.Balance.Add(decimal.RequireFromString("150.25"))
		a.AppendTransaction(models.NewTransaction(a.AccountID, models.TransactionTypeDeposit, decimal.RequireFromString("150.25"), a.Balance, "ATM Deposit", now))
		return nil
	})
	require.NoError(t, err)

	err = repo.Update(ctx, "ACC1001", func(a *models.Account) error {
		a.Balance = decimal.Zero
		return errors.New("rejected")
	})
	require.Error(t, err)

	account, err := repo.FindByAccountID(ctx, "ACC1001")
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("50150.25")))
	require.Len(t, account.History, 1)
	assert.Equal(t, models.TransactionTypeDeposit, account.History[0].Type)
	assert.Equal(t, "", account.History[0].CounterpartyAccountID)
}

func TestPostgresUpdatePair(t *testing.T) {
	repo, _ := setupPostgresRepository(t)
	ctx := context.Background()
	now := time.Now()
	amount := decimal.NewFromInt(2500)

	err := repo.UpdatePair(ctx, "ACC1002", "ACC1001", func(sender, recipient *models.Account) error {
		sender.Balance = sender.Balance.Sub(amount)
		sender.AppendTransaction(models.NewTransferTransaction(sender.AccountID, models.TransactionTypeTransferOut, amount, sender.Balance, "Transfer to ACC1001", recipient.AccountID, now))
		recipient.Balance = recipient.Balance.Add(amount)
		recipient.AppendTransaction(models.NewTransferTransaction(recipient.AccountID, models.TransactionTypeTransferIn, amount, recipient.Balance, "Transfer from ACC1002", sender.AccountID, now))
		return nil
	})
	require.NoError(t, err)

	sender, err := repo.FindByAccountID(ctx, "ACC1002")
	require.NoError(t, err)
	recipient, err := repo.FindByAccountID(ctx, "ACC1001")
	require.NoError(t, err)

	assert.True(t, sender.Balance.Equal(decimal.NewFromInt(72500)))
	assert.True(t, recipient.Balance.Equal(decimal.NewFromInt(52500)))
	require.Len(t, sender.History, 1)
	require.Len(t, recipient.History, 1)
	assert.Equal(t, "ACC1001", sender.History[0].CounterpartyAccountID)
	assert.Equal(t, "ACC1002", recipient.History[0].CounterpartyAccountID)

	err = repo.UpdatePair(ctx, "ACC1001", "ZZZZZ", func(first, second *models.Account) error { return nil })
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	err = repo.UpdatePair(ctx, "ACC1001", "ACC1001", func(first, second *models.Account) error { return nil })
	assert.ErrorIs(t, err, repository.ErrSameAccountUpdate)
}

func TestPostgresOppositeUpdatePairsDoNotDeadlock(t *testing.T) {
	repo, _ := setupPostgresRepository(t)
	ctx := context.Background()

	move := func(from, to string) error {
		return repo.UpdatePair(ctx, from, to, func(src, dst *models.Account) error {
			src.Balance = src.Balance.Sub(decimal.NewFromInt(10))
			dst.Balance = dst.Balance.Add(decimal.NewFromInt(10))
			return nil
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, move("ACC1003", "ACC1004")) }()
		go func() { defer wg.Done(); assert.NoError(t, move("ACC1004", "ACC1003")) }()
	}
	wg.Wait()

	a3, err := repo.FindByAccountID(ctx, "ACC1003")
	require.NoError(t, err)
	a4, err := repo.FindByAccountID(ctx, "ACC1004")
	require.NoError(t, err)
	assert.True(t, a3.Balance.Equal(decimal.RequireFromString("25000.50")))
	assert.True(t, a4.Balance.Equal(decimal.NewFromInt(100000)))
}
