package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"atm-ledger/internal/clock"
	"atm-ledger/internal/repository"
	"atm-ledger/internal/service"
	"atm-ledger/internal/testutil"
	"atm-ledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ledgerEnv struct {
	repo  repository.AccountRepository
	clock *clock.Manual
}

func setupLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()

	tdb := testutil.SetupPostgres(t)
	tdb.Truncate(t)

	start := time.Date(2024, time.May, 20, 9, 0, 0, 0, time.Local)
	repo := repository.NewPostgresAccountRepository(tdb.DB)
	for _, a := range repository.SampleAccounts(start, models.DefaultDailyWithdrawalLimit) {
		require.NoError(t, repo.Save(context.Background(), a))
	}

	return &ledgerEnv{repo: repo, clock: clock.NewManual(start)}
}

func (env *ledgerEnv) session(t *testing.T, userID, pin string) service.LedgerService {
	t.Helper()

	svc := service.NewLedgerService(env.repo, service.DefaultLimits(), env.clock)
	ok, err := svc.Login(context.Background(), userID, pin)
	require.NoError(t, err)
	require.True(t, ok, "login as %s should succeed", userID)
	return svc
}

func (env *ledgerEnv) balance(t *testing.T, accountID string) decimal.Decimal {
	t.Helper()

	a, err := env.repo.FindByAccountID(context.Background(), accountID)
	require.NoError(t, err)
	return a.Balance
}

func TestBasicLedgerFlow(t *testing.T) {
	env := setupLedgerEnv(t)
	ctx := context.Background()
	svc := env.session(t, "user1", "1234")

	_, err := svc.Deposit(ctx, decimal.RequireFromString("1000.50"))
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, decimal.NewFromInt(2000))
	require.NoError(t, err)

	txn, err := svc.Transfer(ctx, "ACC1002", decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeTransferOut, txn.Type)

	balance, err := svc.CheckBalance(ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("48500.50")), "Account 1 balance should be 48500.50, got %s", balance)
	assert.True(t, env.balance(t, "ACC1002").Equal(decimal.NewFromInt(75500)), "Account 2 should receive the transfer")

	history, err := svc.TransactionHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.TransactionTypeDeposit, history[0].Type)
	assert.Equal(t, models.TransactionTypeWithdrawal, history[1].Type)
	assert.Equal(t, models.TransactionTypeTransferOut, history[2].Type)
	assert.True(t, history[2].BalanceAfter.Equal(balance))

	summary, err := svc.AccountSummary(ctx)
	require.NoError(t, err)
	assert.True(t, summary.WithdrawnToday.Equal(decimal.NewFromInt(2000)))
}

func TestInsufficientBalance(t *testing.T) {
	env := setupLedgerEnv(t)
	ctx := context.Background()
	svc := env.session(t, "user3", "9012")

	_, err := svc.Transfer(ctx, "ACC1004", decimal.RequireFromString("24500.51"))
	assert.ErrorIs(t, err, service.ErrInsufficientFunds, "transfer below the minimum balance should fail")

	assert.True(t, env.balance(t, "ACC1003").Equal(decimal.RequireFromString("25000.50")), "Account 3 balance should remain unchanged")
	assert.True(t, env.balance(t, "ACC1004").Equal(decimal.NewFromInt(100000)), "Account 4 balance should remain unchanged")
}

func TestLockoutPersists(t *testing.T) {
	env := setupLedgerEnv(t)
	ctx := context.Background()

	svc := service.NewLedgerService(env.repo, service.DefaultLimits(), env.clock)
	for i := 0; i < 2; i++ {
		ok, err := svc.Login(ctx, "user2", "1111")
		require.NoError(t, err)
		require.False(t, ok)
	}
	_, err := svc.Login(ctx, "user2", "1111")
	assert.ErrorIs(t, err, service.ErrAccountLocked)

	other := service.NewLedgerService(env.repo, service.DefaultLimits(), env.clock)
	_, err = other.Login(ctx, "user2", "5678")
	assert.ErrorIs(t, err, service.ErrAccountLocked, "lock is shared across sessions")

	require.NoError(t, env.repo.Unlock(ctx, "user2"))
	ok, err := other.Login(ctx, "user2", "5678")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDailyLimitAcrossDays(t *testing.T) {
	env := setupLedgerEnv(t)
	ctx := context.Background()
	svc := env.session(t, "user4", "3456")

	_, err := svc.Withdraw(ctx, decimal.NewFromInt(40000))
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, service.ErrDailyLimitExceeded)

	env.clock.Advance(24 * time.Hour)

	_, err = svc.Withdraw(ctx, decimal.NewFromInt(100))
	require.NoError(t, err, "limit should reset on the next day")

	a, err := env.repo.FindByAccountID(ctx, "ACC1004")
	require.NoError(t, err)
	assert.True(t, a.DailyWithdrawn.Equal(decimal.NewFromInt(100)))
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(49900)))
}

func TestConcurrencyHandling(t *testing.T) {
	env := setupLedgerEnv(t)
	ctx := context.Background()

	sender := env.session(t, "user1", "1234")
	receiver := env.session(t, "user2", "5678")

	initialTotal := env.balance(t, "ACC1001").Add(env.balance(t, "ACC1002"))

	numTransactions := 100
	transactionAmount := decimal.RequireFromString("1.00")

	var wg sync.WaitGroup
	wg.Add(2)

	errorChan := make(chan error, 2*numTransactions)

	go func() {
		defer wg.Done()
		for i := 0; i < numTransactions; i++ {
			if _, err := sender.Transfer(ctx, "ACC1002", transactionAmount); err != nil {
				errorChan <- fmt.Errorf("transfer 1->2 #%d failed: %w", i, err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < numTransactions; i++ {
			if _, err := receiver.Transfer(ctx, "ACC1001", transactionAmount); err != nil {
				errorChan <- fmt.Errorf("transfer 2->1 #%d failed: %w", i, err)
			}
		}
	}()

	wg.Wait()
	close(errorChan)

	for err := range errorChan {
		t.Errorf("Transaction error: %v", err)
	}

	finalBalance1 := env.balance(t, "ACC1001")
	finalBalance2 := env.balance(t, "ACC1002")
	fmt.Printf("Final balance - Account 1: %s, Account 2: %s\n", finalBalance1.StringFixed(2), finalBalance2.StringFixed(2))

	assert.True(t, initialTotal.Equal(finalBalance1.Add(finalBalance2)),
		"Total money in system should remain constant. Expected: %s, Actual: %s",
		initialTotal.StringFixed(2), finalBalance1.Add(finalBalance2).StringFixed(2))
	assert.True(t, finalBalance1.Equal(decimal.NewFromInt(50000)))
	assert.True(t, finalBalance2.Equal(decimal.NewFromInt(75000)))

	h1, err := sender.TransactionHistory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, h1, 2*numTransactions, "every transfer leaves one record on each side")
}

func TestConcurrentWithdrawalsRespectMinimumBalance(t *testing.T) {
	env := setupLedgerEnv(t)
	ctx := context.Background()

	// ACC1003 holds 25000.50, so 245 withdrawals of 100 fit above the 500 floor.
	const sessions = 5
	const perSession = 60

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < sessions; i++ {
		svc := env.session(t, "user3", "9012")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perSession; j++ {
				_, err := svc.Withdraw(ctx, decimal.NewFromInt(100))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					continue
				}
				kind := service.KindOf(err)
				assert.Equal(t, service.ErrInsufficientFunds, kind, "unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	final := env.balance(t, "ACC1003")
	assert.Equal(t, 245, succeeded)
	assert.True(t, final.Equal(decimal.RequireFromString("500.50")), "got %s", final)
	assert.False(t, final.LessThan(service.DefaultLimits().MinimumBalance), "balance must never drop below the minimum")
}
