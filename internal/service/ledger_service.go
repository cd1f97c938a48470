package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"atm-ledger/internal/clock"
	"atm-ledger/internal/logger"
	"atm-ledger/internal/repository"
	"atm-ledger/internal/validator"
	"atm-ledger/models"

	"github.com/shopspring/decimal"
)

// LedgerService is one ATM session over the account store. An instance holds
// at most one authenticated account at a time and is driven by a single
// synchronous caller.
type LedgerService interface {
	Login(ctx context.Context, userID, pin string) (bool, error)
	Logout()
	IsLoggedIn() bool
	CurrentAccountID() (string, bool)

	Withdraw(ctx context.Context, amount decimal.Decimal) (*models.Transaction, error)
	Deposit(ctx context.Context, amount decimal.Decimal) (*models.Transaction, error)
	Transfer(ctx context.Context, recipientAccountID string, amount decimal.Decimal) (*models.Transaction, error)
	ChangePIN(ctx context.Context, oldPIN, newPIN, confirmPIN string) error

	CheckBalance(ctx context.Context) (decimal.Decimal, error)
	TransactionHistory(ctx context.Context, limit int) ([]models.Transaction, error)
	AccountSummary(ctx context.Context) (*AccountSummary, error)
	MinimumBalance() decimal.Decimal
}

type AccountSummary struct {
	AccountID        string
	HolderName       string
	AccountType      models.AccountType
	Balance          decimal.Decimal
	AvailableBalance decimal.Decimal
	DailyLimit       decimal.Decimal
	WithdrawnToday   decimal.Decimal
	RemainingLimit   decimal.Decimal
}

// errUnchanged aborts a store update that found nothing to write.
var errUnchanged = errors.New("unchanged")

type ledgerService struct {
	accountRepo repository.AccountRepository
	limits      Limits
	clock       clock.Clock
	logger      *logger.Logger

	mu               sync.Mutex
	sessionAccountID string
}

func NewLedgerService(accountRepo repository.AccountRepository, limits Limits, clk clock.Clock) LedgerService {
	if clk == nil {
		clk = clock.System()
	}
	return &ledgerService{
		accountRepo: accountRepo,
		limits:      limits,
		clock:       clk,
		logger:      logger.NewFromEnv(),
	}
}

func (s *ledgerService) entry(op, accountID string) *logger.Entry {
	return s.logger.WithFields(map[string]interface{}{
		"component":  "ledger_service",
		"operation":  op,
		"account_id": validator.MaskAccountID(accountID),
	})
}

func (s *ledgerService) Login(ctx context.Context, userID, pin string) (bool, error) {
	if !validator.IsValidUserID(userID) {
		return false, newLedgerError(ErrInvalidInput, "Invalid User ID format")
	}
	if !validator.IsValidPIN(pin) {
		return false, newLedgerError(ErrInvalidInput, "Invalid PIN format")
	}

	account, err := s.accountRepo.Authenticate(ctx, userID, pin)
	switch {
	case errors.Is(err, repository.ErrAccountLocked):
		return false, newLedgerError(ErrAccountLocked, "Account is locked due to multiple failed login attempts. Please contact bank.")
	case errors.Is(err, repository.ErrInvalidCredentials):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to authenticate: %w", err)
	}

	entry := s.entry("login", account.AccountID)

	if !account.IsActive() {
		entry.Warn("Login refused, account status is %s", account.Status)
		return false, newLedgerError(ErrAccountUnavailable, "Account is %s. Please contact bank.", account.Status.DisplayName())
	}

	now := s.clock.Now()
	err = s.accountRepo.Update(ctx, account.AccountID, func(a *models.Account) error {
		a.LastAccessAt = now
		s.resetDailyLimit(a, now)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record login: %w", err)
	}

	s.mu.Lock()
	s.sessionAccountID = account.AccountID
	s.mu.Unlock()

	entry.Info("Session started")
	return true, nil
}

func (s *ledgerService) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionAccountID = ""
}

func (s *ledgerService) IsLoggedIn() bool {
	_, ok := s.CurrentAccountID()
	return ok
}

func (s *ledgerService) CurrentAccountID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionAccountID, s.sessionAccountID != ""
}

func (s *ledgerService) MinimumBalance() decimal.Decimal {
	return s.limits.MinimumBalance
}

func (s *ledgerService) sessionAccount() (string, error) {
	id, ok := s.CurrentAccountID()
	if !ok {
		return "", newLedgerError(ErrNoActiveSession, "No active session. Please login first.")
	}
	return id, nil
}

func (s *ledgerService) sessionLost(accountID string) error {
	s.entry("session", accountID).Warn("Session account no longer exists, ending session")
	s.Logout()
	return newLedgerError(ErrNoActiveSession, "Session account no longer exists. Please login again.")
}

// withSessionAccount checks the session account out of the store for the
// duration of fn. The account must still be Active.
func (s *ledgerService) withSessionAccount(ctx context.Context, fn func(a *models.Account) error) error {
	accountID, err := s.sessionAccount()
	if err != nil {
		return err
	}

	err = s.accountRepo.Update(ctx, accountID, func(a *models.Account) error {
		if !a.IsActive() {
			return newLedgerError(ErrAccountUnavailable, "Account is %s. Please contact bank.", a.Status.DisplayName())
		}
		return fn(a)
	})
	if errors.Is(err, repository.ErrAccountNotFound) && KindOf(err) == nil {
		return s.sessionLost(accountID)
	}
	return err
}

// sessionSnapshot returns a read-only copy of the session account.
func (s *ledgerService) sessionSnapshot(ctx context.Context) (*models.Account, error) {
	accountID, err := s.sessionAccount()
	if err != nil {
		return nil, err
	}

	account, err := s.accountRepo.FindByAccountID(ctx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, s.sessionLost(accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

// resetDailyLimit zeroes the day's withdrawn total when now falls on a later
// calendar day than the last reset. It reports whether anything changed.
func (s *ledgerService) resetDailyLimit(a *models.Account, now time.Time) bool {
	today := models.StartOfDay(now)
	lastReset := models.StartOfDay(a.LastWithdrawalReset.In(now.Location()))
	if !lastReset.Before(today) {
		return false
	}
	a.DailyWithdrawn = decimal.Zero
	a.LastWithdrawalReset = today
	return true
}

// refreshDailyLimit persists a pending day rollover on its own, so it sticks
// even if the operation that triggered it is rejected.
func (s *ledgerService) refreshDailyLimit(ctx context.Context, now time.Time) error {
	err := s.withSessionAccount(ctx, func(a *models.Account) error {
		if !s.resetDailyLimit(a, now) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

func (s *ledgerService) Withdraw(ctx context.Context, amount decimal.Decimal) (*models.Transaction, error) {
	accountID, err := s.sessionAccount()
	if err != nil {
		return nil, err
	}

	switch {
	case !amount.IsPositive():
		return nil, newLedgerError(ErrInvalidAmount, "Withdrawal amount must be positive")
	case !validator.HasCentPrecision(amount):
		return nil, newLedgerError(ErrInvalidAmount, "Amount cannot have more than 2 decimal places")
	case amount.LessThan(s.limits.MinWithdrawal):
		return nil, newLedgerError(ErrBelowMinimum, "Minimum withdrawal amount is %s", money(s.limits.MinWithdrawal))
	case amount.GreaterThan(s.limits.MaxWithdrawal):
		return nil, newLedgerError(ErrAboveMaximum, "Maximum withdrawal per transaction is %s", money(s.limits.MaxWithdrawal))
	case !amount.Mod(s.limits.WithdrawalDenomination).IsZero():
		return nil, newLedgerError(ErrInvalidDenomination, "Amount must be in multiples of %s", money(s.limits.WithdrawalDenomination))
	}

	entry := s.entry("withdraw", accountID).WithField("amount", money(amount))
	now := s.clock.Now()

	if err := s.refreshDailyLimit(ctx, now); err != nil {
		return nil, err
	}

	var txn models.Transaction
	err = s.withSessionAccount(ctx, func(a *models.Account) error {
		s.resetDailyLimit(a, now)

		if a.DailyWithdrawn.Add(amount).GreaterThan(a.DailyWithdrawalLimit) {
			return newLedgerError(ErrDailyLimitExceeded, "Daily withdrawal limit exceeded. Limit: %s, Already withdrawn: %s",
				money(a.DailyWithdrawalLimit), money(a.DailyWithdrawn))
		}

		newBalance := a.Balance.Sub(amount)
		if newBalance.LessThan(s.limits.MinimumBalance) {
			return newLedgerError(ErrInsufficientFunds, "Insufficient funds. Available balance: %s (Minimum balance: %s required)",
				money(a.Balance), money(s.limits.MinimumBalance))
		}

		a.Balance = newBalance
		a.DailyWithdrawn = a.DailyWithdrawn.Add(amount)
		txn = models.NewTransaction(a.AccountID, models.TransactionTypeWithdrawal, amount, newBalance, "ATM Withdrawal", now)
		a.AppendTransaction(txn)
		return nil
	})
	if err != nil {
		if KindOf(err) != nil {
			entry.Info("Withdrawal rejected: %v", err)
			return nil, err
		}
		entry.Error("Failed to persist withdrawal: %v", err)
		return nil, fmt.Errorf("failed to persist withdrawal: %w", err)
	}

	entry.WithField("transaction_id", txn.TransactionID).Info("Withdrawal completed")
	return &txn, nil
}

func (s *ledgerService) Deposit(ctx context.Context, amount decimal.Decimal) (*models.Transaction, error) {
	accountID, err := s.sessionAccount()
	if err != nil {
		return nil, err
	}

	switch {
	case !amount.IsPositive():
		return nil, newLedgerError(ErrInvalidAmount, "Deposit amount must be positive")
	case !validator.HasCentPrecision(amount):
		return nil, newLedgerError(ErrInvalidAmount, "Amount cannot have more than 2 decimal places")
	case amount.GreaterThan(s.limits.MaxDeposit):
		return nil, newLedgerError(ErrAboveMaximum, "Single deposit cannot exceed %s. Please visit branch for larger deposits.", money(s.limits.MaxDeposit))
	}

	entry := s.entry("deposit", accountID).WithField("amount", money(amount))
	now := s.clock.Now()

	var txn models.Transaction
	err = s.withSessionAccount(ctx, func(a *models.Account) error {
		a.Balance = a.Balance.Add(amount)
		txn = models.NewTransaction(a.AccountID, models.TransactionTypeDeposit, amount, a.Balance, "ATM Deposit", now)
		a.AppendTransaction(txn)
		return nil
	})
	if err != nil {
		if KindOf(err) != nil {
			entry.Info("Deposit rejected: %v", err)
			return nil, err
		}
		entry.Error("Failed to persist deposit: %v", err)
		return nil, fmt.Errorf("failed to persist deposit: %w", err)
	}

	entry.WithField("transaction_id", txn.TransactionID).Info("Deposit completed")
	return &txn, nil
}

// Transfer debits the session account and credits recipientAccountID in one
// store update. It returns the sender-side record.
func (s *ledgerService) Transfer(ctx context.Context, recipientAccountID string, amount decimal.Decimal) (*models.Transaction, error) {
	senderID, err := s.sessionAccount()
	if err != nil {
		return nil, err
	}

	if !validator.IsValidAccountID(recipientAccountID) {
		return nil, newLedgerError(ErrInvalidAccountFormat, "Invalid recipient account number format")
	}
	if recipientAccountID == senderID {
		return nil, newLedgerError(ErrSelfTransfer, "Cannot transfer to same account")
	}

	recipient, err := s.accountRepo.FindByAccountID(ctx, recipientAccountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, newLedgerError(ErrAccountNotFound, "Recipient account not found: %s", recipientAccountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipient: %w", err)
	}
	if !recipient.IsActive() {
		return nil, newLedgerError(ErrRecipientUnavailable, "Recipient account is not active")
	}

	switch {
	case !amount.IsPositive():
		return nil, newLedgerError(ErrInvalidAmount, "Transfer amount must be positive")
	case !validator.HasCentPrecision(amount):
		return nil, newLedgerError(ErrInvalidAmount, "Amount cannot have more than 2 decimal places")
	case amount.LessThan(s.limits.MinTransfer):
		return nil, newLedgerError(ErrBelowMinimum, "Minimum transfer amount is %s", money(s.limits.MinTransfer))
	case amount.GreaterThan(s.limits.MaxTransfer):
		return nil, newLedgerError(ErrAboveMaximum, "Maximum transfer per transaction is %s", money(s.limits.MaxTransfer))
	}

	entry := s.entry("transfer", senderID).WithFields(map[string]interface{}{
		"recipient_id": validator.MaskAccountID(recipientAccountID),
		"amount":       money(amount),
	})
	now := s.clock.Now()

	var out models.Transaction
	err = s.accountRepo.UpdatePair(ctx, senderID, recipientAccountID, func(sender, recipient *models.Account) error {
		if !sender.IsActive() {
			return newLedgerError(ErrAccountUnavailable, "Account is %s. Please contact bank.", sender.Status.DisplayName())
		}
		if !recipient.IsActive() {
			return newLedgerError(ErrRecipientUnavailable, "Recipient account is not active")
		}

		newSenderBalance := sender.Balance.Sub(amount)
		if newSenderBalance.LessThan(s.limits.MinimumBalance) {
			return newLedgerError(ErrInsufficientFunds, "Insufficient funds. Available balance: %s (Minimum balance: %s required)",
				money(sender.Balance), money(s.limits.MinimumBalance))
		}

		sender.Balance = newSenderBalance
		out = models.NewTransferTransaction(sender.AccountID, models.TransactionTypeTransferOut, amount, sender.Balance,
			"Transfer to "+recipient.AccountID, recipient.AccountID, now)
		sender.AppendTransaction(out)

		recipient.Balance = recipient.Balance.Add(amount)
		in := models.NewTransferTransaction(recipient.AccountID, models.TransactionTypeTransferIn, amount, recipient.Balance,
			"Transfer from "+sender.AccountID, sender.AccountID, now)
		recipient.AppendTransaction(in)
		return nil
	})
	if err != nil {
		if KindOf(err) != nil {
			entry.Info("Transfer rejected: %v", err)
			return nil, err
		}
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, s.missingTransferParty(ctx, senderID, recipientAccountID, err)
		}
		entry.Error("Transfer failed: %v", err)
		return nil, wrapLedgerError(ErrTransferFailed, err, "Transfer failed: %v", err)
	}

	entry.WithField("transaction_id", out.TransactionID).Info("Transfer completed")
	return &out, nil
}

// missingTransferParty maps a pair update that lost one of its accounts. A
// missing sender ends the session like any other operation would.
func (s *ledgerService) missingTransferParty(ctx context.Context, senderID, recipientID string, cause error) error {
	exists, err := s.accountRepo.AccountExists(ctx, senderID)
	if err != nil {
		return wrapLedgerError(ErrTransferFailed, cause, "Transfer failed: %v", cause)
	}
	if !exists {
		return s.sessionLost(senderID)
	}
	return newLedgerError(ErrAccountNotFound, "Recipient account not found: %s", recipientID)
}

// ChangePIN replaces the session account's PIN. The caller is expected to end
// the session afterwards.
func (s *ledgerService) ChangePIN(ctx context.Context, oldPIN, newPIN, confirmPIN string) error {
	accountID, err := s.sessionAccount()
	if err != nil {
		return err
	}

	entry := s.entry("change_pin", accountID)
	now := s.clock.Now()

	err = s.withSessionAccount(ctx, func(a *models.Account) error {
		switch {
		case a.PIN != oldPIN:
			return newLedgerError(ErrIncorrectPIN, "Current PIN is incorrect")
		case !validator.IsValidPIN(newPIN):
			return newLedgerError(ErrInvalidPIN, "New PIN must be 4 digits")
		case newPIN == oldPIN:
			return newLedgerError(ErrPINUnchanged, "New PIN must be different from current PIN")
		case newPIN != confirmPIN:
			return newLedgerError(ErrPINMismatch, "New PIN and confirmation PIN do not match")
		case validator.IsWeakPIN(newPIN):
			return newLedgerError(ErrWeakPIN, "Weak PIN detected. Avoid sequential numbers (1234) or repeated digits (1111)")
		}

		a.PIN = newPIN
		a.AppendTransaction(models.NewTransaction(a.AccountID, models.TransactionTypePinChange, decimal.Zero, a.Balance, "PIN Changed Successfully", now))
		return nil
	})
	if err != nil {
		if KindOf(err) != nil {
			entry.Info("PIN change rejected: %v", err)
			return err
		}
		entry.Error("Failed to persist PIN change: %v", err)
		return fmt.Errorf("failed to persist pin change: %w", err)
	}

	entry.Info("PIN changed")
	return nil
}

func (s *ledgerService) CheckBalance(ctx context.Context) (decimal.Decimal, error) {
	account, err := s.sessionSnapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// TransactionHistory returns the session account's history oldest first. A
// positive limit keeps only the most recent limit entries.
func (s *ledgerService) TransactionHistory(ctx context.Context, limit int) ([]models.Transaction, error) {
	account, err := s.sessionSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	history := account.History
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]models.Transaction, len(history))
	copy(out, history)
	return out, nil
}

func (s *ledgerService) AccountSummary(ctx context.Context) (*AccountSummary, error) {
	account, err := s.sessionSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	// report today's figures even if the stored total predates a rollover
	s.resetDailyLimit(account, s.clock.Now())

	return &AccountSummary{
		AccountID:        account.AccountID,
		HolderName:       account.HolderName,
		AccountType:      account.AccountType,
		Balance:          account.Balance,
		AvailableBalance: account.Balance.Sub(s.limits.MinimumBalance),
		DailyLimit:       account.DailyWithdrawalLimit,
		WithdrawnToday:   account.DailyWithdrawn,
		RemainingLimit:   account.DailyWithdrawalLimit.Sub(account.DailyWithdrawn),
	}, nil
}
