package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"atm-ledger/internal/logger"
	"atm-ledger/internal/validator"
	"atm-ledger/models"
)

// accountRecord guards one account. The record's mutex serialises every
// mutation of that account; the repository-wide lock only guards the indexes.
type accountRecord struct {
	mu      sync.Mutex
	account *models.Account
}

type MemoryAccountRepository struct {
	mu          sync.RWMutex
	byAccountID map[string]*accountRecord
	byUserID    map[string]*accountRecord
	logger      *logger.Entry
}

// NewMemoryAccountRepository builds an in-process store provisioned with
// copies of accounts.
func NewMemoryAccountRepository(accounts ...*models.Account) (*MemoryAccountRepository, error) {
	r := &MemoryAccountRepository{
		logger: logger.NewFromEnv().WithComponent("memory_account_repository"),
	}
	if err := r.Reset(accounts...); err != nil {
		return nil, err
	}
	return r, nil
}

// Reset drops every account and provisions copies of accounts.
func (r *MemoryAccountRepository) Reset(accounts ...*models.Account) error {
	byAccountID := make(map[string]*accountRecord, len(accounts))
	byUserID := make(map[string]*accountRecord, len(accounts))

	for _, a := range accounts {
		if _, ok := byAccountID[a.AccountID]; ok {
			return fmt.Errorf("%w: account %s", ErrDuplicateAccount, a.AccountID)
		}
		if _, ok := byUserID[a.UserID]; ok {
			return fmt.Errorf("%w: user %s", ErrDuplicateAccount, a.UserID)
		}
		rec := &accountRecord{account: a.Clone()}
		byAccountID[a.AccountID] = rec
		byUserID[a.UserID] = rec
	}

	r.mu.Lock()
	r.byAccountID = byAccountID
	r.byUserID = byUserID
	r.mu.Unlock()

	r.logger.Debug("Store reset with %d accounts", len(accounts))
	return nil
}

func (r *MemoryAccountRepository) recordByAccountID(accountID string) (*accountRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byAccountID[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return rec, nil
}

func (r *MemoryAccountRepository) recordByUserID(userID string) (*accountRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byUserID[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return rec, nil
}

func (rec *accountRecord) snapshot() *models.Account {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.account.Clone()
}

func (r *MemoryAccountRepository) FindByUserID(ctx context.Context, userID string) (*models.Account, error) {
	rec, err := r.recordByUserID(userID)
	if err != nil {
		return nil, err
	}
	return rec.snapshot(), nil
}

func (r *MemoryAccountRepository) FindByAccountID(ctx context.Context, accountID string) (*models.Account, error) {
	rec, err := r.recordByAccountID(accountID)
	if err != nil {
		return nil, err
	}
	return rec.snapshot(), nil
}

func (r *MemoryAccountRepository) AccountExists(ctx context.Context, accountID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byAccountID[accountID]
	return ok, nil
}

func (r *MemoryAccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	r.mu.RLock()
	records := make([]*accountRecord, 0, len(r.byAccountID))
	for _, rec := range r.byAccountID {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	out := make([]*models.Account, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (r *MemoryAccountRepository) Save(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	rec, exists := r.byAccountID[account.AccountID]
	if !exists {
		if _, taken := r.byUserID[account.UserID]; taken {
			r.mu.Unlock()
			return fmt.Errorf("%w: user %s", ErrDuplicateAccount, account.UserID)
		}
		rec = &accountRecord{account: account.Clone()}
		r.byAccountID[account.AccountID] = rec
		r.byUserID[account.UserID] = rec
		r.mu.Unlock()

		r.logger.WithField("account_id", validator.MaskAccountID(account.AccountID)).Debug("Account provisioned")
		return nil
	}
	r.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.account.UserID != account.UserID {
		return ErrImmutableIdentity
	}
	rec.account = account.Clone()
	return nil
}

func (r *MemoryAccountRepository) Authenticate(ctx context.Context, userID, pin string) (*models.Account, error) {
	rec, err := r.recordByUserID(userID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	account := rec.account
	entry := r.logger.WithField("account_id", validator.MaskAccountID(account.AccountID))

	if account.Locked {
		entry.Warn("Login attempt on locked account")
		return nil, ErrAccountLocked
	}

	if account.PIN != pin {
		if account.RecordFailedLogin() {
			entry.Warn("Account locked after %d failed login attempts", account.FailedLoginCount)
			return nil, ErrAccountLocked
		}
		entry.Info("Failed login attempt %d of %d", account.FailedLoginCount, models.MaxFailedLoginAttempts)
		return nil, ErrInvalidCredentials
	}

	account.ResetFailedLogins()
	return account.Clone(), nil
}

func (r *MemoryAccountRepository) Unlock(ctx context.Context, userID string) error {
	rec, err := r.recordByUserID(userID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.account.ResetFailedLogins()
	r.logger.WithField("account_id", validator.MaskAccountID(rec.account.AccountID)).Info("Account unlocked")
	return nil
}

func (r *MemoryAccountRepository) Update(ctx context.Context, accountID string, fn func(account *models.Account) error) error {
	rec, err := r.recordByAccountID(accountID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := rec.account.Clone()
	if err := fn(working); err != nil {
		return err
	}
	if working.AccountID != rec.account.AccountID || working.UserID != rec.account.UserID {
		return ErrImmutableIdentity
	}

	rec.account = working
	return nil
}

func (r *MemoryAccountRepository) UpdatePair(ctx context.Context, firstID, secondID string, fn func(first, second *models.Account) error) error {
	if firstID == secondID {
		return ErrSameAccountUpdate
	}

	first, err := r.recordByAccountID(firstID)
	if err != nil {
		return fmt.Errorf("%w: %s", err, firstID)
	}
	second, err := r.recordByAccountID(secondID)
	if err != nil {
		return fmt.Errorf("%w: %s", err, secondID)
	}

	// lower account id first so opposite-direction pairs cannot deadlock
	lockFirst, lockSecond := first, second
	if secondID < firstID {
		lockFirst, lockSecond = second, first
	}
	lockFirst.mu.Lock()
	defer lockFirst.mu.Unlock()
	lockSecond.mu.Lock()
	defer lockSecond.mu.Unlock()

	workingFirst := first.account.Clone()
	workingSecond := second.account.Clone()
	if err := fn(workingFirst, workingSecond); err != nil {
		return err
	}
	if workingFirst.AccountID != firstID || workingSecond.AccountID != secondID {
		return ErrImmutableIdentity
	}

	first.account = workingFirst
	second.account = workingSecond
	return nil
}
