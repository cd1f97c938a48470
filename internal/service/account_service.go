package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"atm-ledger/internal/clock"
	"atm-ledger/internal/logger"
	"atm-ledger/internal/repository"
	"atm-ledger/internal/validator"
	"atm-ledger/models"

	"github.com/shopspring/decimal"
)

// AccountService is the back-office side of the store: provisioning,
// lookups and clearing lockouts. It never runs inside an ATM session.
type AccountService interface {
	OpenAccount(ctx context.Context, req *models.OpenAccountRequest) (*models.Account, error)
	ProvisionAccounts(ctx context.Context, accounts []*models.Account) (int, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	UnlockAccount(ctx context.Context, userID string) error
}

type accountService struct {
	accountRepo repository.AccountRepository
	clock       clock.Clock
	logger      *logger.Logger
}

func NewAccountService(accountRepo repository.AccountRepository, clk clock.Clock) AccountService {
	if clk == nil {
		clk = clock.System()
	}
	return &accountService{
		accountRepo: accountRepo,
		clock:       clk,
		logger:      logger.NewFromEnv(),
	}
}

func (s *accountService) OpenAccount(ctx context.Context, req *models.OpenAccountRequest) (*models.Account, error) {
	if err := s.validateOpenRequest(req); err != nil {
		return nil, err
	}

	balance, err := s.parseBalance(req.InitialBalance)
	if err != nil {
		return nil, newLedgerError(ErrInvalidAmount, "Invalid initial balance: %v", err)
	}

	account := models.NewAccount(req.AccountID, req.UserID, req.PIN, strings.TrimSpace(req.HolderName), balance, s.clock.Now())
	if req.AccountType != "" {
		account.AccountType = req.AccountType
	}
	if req.DailyWithdrawalLimit != "" {
		limit, err := validator.ParseAmount(req.DailyWithdrawalLimit)
		if err != nil {
			return nil, newLedgerError(ErrInvalidAmount, "Invalid daily withdrawal limit: %v", err)
		}
		account.DailyWithdrawalLimit = limit
	}

	exists, err := s.accountRepo.AccountExists(ctx, account.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("failed to create account: %w: %s", repository.ErrDuplicateAccount, account.AccountID)
	}

	if err := s.accountRepo.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"component":  "account_service",
		"account_id": validator.MaskAccountID(account.AccountID),
	}).Info("Account opened")
	return account, nil
}

// ProvisionAccounts saves every account not already in the store and
// reports how many were added.
func (s *accountService) ProvisionAccounts(ctx context.Context, accounts []*models.Account) (int, error) {
	added := 0
	for _, a := range accounts {
		exists, err := s.accountRepo.AccountExists(ctx, a.AccountID)
		if err != nil {
			return added, fmt.Errorf("failed to check account %s: %w", a.AccountID, err)
		}
		if exists {
			continue
		}
		if err := s.accountRepo.Save(ctx, a); err != nil {
			return added, fmt.Errorf("failed to provision account %s: %w", a.AccountID, err)
		}
		added++
	}

	s.logger.Debug("Provisioned %d of %d accounts", added, len(accounts))
	return added, nil
}

func (s *accountService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.accountRepo.FindByAccountID(ctx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, newLedgerError(ErrAccountNotFound, "Account not found: %s", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (s *accountService) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	accounts, err := s.accountRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UnlockAccount clears a lockout. It is the only way a locked account
// becomes usable again.
func (s *accountService) UnlockAccount(ctx context.Context, userID string) error {
	if !validator.IsValidUserID(userID) {
		return newLedgerError(ErrInvalidInput, "Invalid User ID format")
	}

	err := s.accountRepo.Unlock(ctx, userID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return newLedgerError(ErrAccountNotFound, "No account for user %s", userID)
	}
	if err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}

	s.logger.WithComponent("account_service").Info("Account unlocked by operator")
	return nil
}

func (s *accountService) validateOpenRequest(req *models.OpenAccountRequest) error {
	switch {
	case !validator.IsValidAccountID(req.AccountID):
		return newLedgerError(ErrInvalidAccountFormat, "Invalid account number format: %s", req.AccountID)
	case !validator.IsValidUserID(req.UserID):
		return newLedgerError(ErrInvalidInput, "Invalid User ID format")
	case !validator.IsValidPIN(req.PIN):
		return newLedgerError(ErrInvalidPIN, "PIN must be 4 digits")
	case strings.TrimSpace(req.HolderName) == "":
		return newLedgerError(ErrInvalidInput, "Account holder name is required")
	}

	switch req.AccountType {
	case "", models.AccountTypeSavings, models.AccountTypeCurrent, models.AccountTypeSalary, models.AccountTypeFixedDeposit:
	default:
		return newLedgerError(ErrInvalidInput, "Unknown account type: %s", req.AccountType)
	}
	return nil
}

func (s *accountService) parseBalance(balance string) (decimal.Decimal, error) {
	balance = strings.TrimSpace(balance)
	if balance == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance format: %s", balance)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("balance cannot be negative")
	}
	if !validator.HasCentPrecision(d) {
		return decimal.Zero, fmt.Errorf("balance cannot have more than 2 decimal places")
	}

	return d, nil
}
