package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxFailedLoginAttempts is the number of consecutive wrong PINs after which an account locks.
const MaxFailedLoginAttempts = 3

var DefaultDailyWithdrawalLimit = decimal.NewFromInt(50000)

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusInactive  AccountStatus = "inactive"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
	AccountStatusFrozen    AccountStatus = "frozen"
)

func (s AccountStatus) DisplayName() string {
	switch s {
	case AccountStatusActive:
		return "Active"
	case AccountStatusInactive:
		return "Inactive"
	case AccountStatusSuspended:
		return "Suspended"
	case AccountStatusClosed:
		return "Closed"
	case AccountStatusFrozen:
		return "Frozen"
	default:
		return string(s)
	}
}

type AccountType string

const (
	AccountTypeSavings      AccountType = "savings"
	AccountTypeCurrent      AccountType = "current"
	AccountTypeSalary       AccountType = "salary"
	AccountTypeFixedDeposit AccountType = "fixed_deposit"
)

func (t AccountType) DisplayName() string {
	switch t {
	case AccountTypeSavings:
		return "Savings Account"
	case AccountTypeCurrent:
		return "Current Account"
	case AccountTypeSalary:
		return "Salary Account"
	case AccountTypeFixedDeposit:
		return "Fixed Deposit Account"
	default:
		return string(t)
	}
}

type TransactionType string

const (
	TransactionTypeDeposit        TransactionType = "deposit"
	TransactionTypeWithdrawal     TransactionType = "withdrawal"
	TransactionTypeTransferOut    TransactionType = "transfer_out"
	TransactionTypeTransferIn     TransactionType = "transfer_in"
	TransactionTypeBalanceInquiry TransactionType = "balance_inquiry"
	TransactionTypePinChange      TransactionType = "pin_change"
)

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

type Account struct {
	AccountID            string          `json:"account_id" db:"account_id"`
	UserID               string          `json:"user_id" db:"user_id"`
	PIN                  string          `json:"-" db:"pin"`
	HolderName           string          `json:"holder_name" db:"holder_name"`
	AccountType          AccountType     `json:"account_type" db:"account_type"`
	Status               AccountStatus   `json:"status" db:"status"`
	Balance              decimal.Decimal `json:"balance" db:"balance"`
	DailyWithdrawalLimit decimal.Decimal `json:"daily_withdrawal_limit" db:"daily_withdrawal_limit"`
	DailyWithdrawn       decimal.Decimal `json:"daily_withdrawn" db:"daily_withdrawn"`
	LastWithdrawalReset  time.Time       `json:"last_withdrawal_reset" db:"last_withdrawal_reset"`
	FailedLoginCount     int             `json:"-" db:"failed_login_count"`
	Locked               bool            `json:"locked" db:"locked"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	LastAccessAt         time.Time       `json:"last_access_at" db:"last_access_at"`
	History              []Transaction   `json:"-"`
}

// NewAccount provisions an active savings account with an empty history and
// the default daily withdrawal limit, reset as of now's calendar day.
func NewAccount(accountID, userID, pin, holderName string, initialBalance decimal.Decimal, now time.Time) *Account {
	return &Account{
		AccountID:            accountID,
		UserID:               userID,
		PIN:                  pin,
		HolderName:           holderName,
		AccountType:          AccountTypeSavings,
		Status:               AccountStatusActive,
		Balance:              initialBalance,
		DailyWithdrawalLimit: DefaultDailyWithdrawalLimit,
		DailyWithdrawn:       decimal.Zero,
		LastWithdrawalReset:  StartOfDay(now),
		CreatedAt:            now,
		LastAccessAt:         now,
	}
}

// Clone returns a copy that shares no mutable state with a.
func (a *Account) Clone() *Account {
	cp := *a
	if a.History != nil {
		cp.History = make([]Transaction, len(a.History))
		copy(cp.History, a.History)
	}
	return &cp
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

func (a *Account) AppendTransaction(txn Transaction) {
	a.History = append(a.History, txn)
}

// RecordFailedLogin bumps the failure counter and locks the account once it
// reaches MaxFailedLoginAttempts. It reports whether the account is now locked.
func (a *Account) RecordFailedLogin() bool {
	a.FailedLoginCount++
	if a.FailedLoginCount >= MaxFailedLoginAttempts {
		a.Locked = true
	}
	return a.Locked
}

func (a *Account) ResetFailedLogins() {
	a.FailedLoginCount = 0
	a.Locked = false
}

type Transaction struct {
	TransactionID         uuid.UUID         `json:"transaction_id" db:"transaction_id"`
	AccountID             string            `json:"account_id" db:"account_id"`
	Type                  TransactionType   `json:"type" db:"type"`
	Amount                decimal.Decimal   `json:"amount" db:"amount"`
	BalanceAfter          decimal.Decimal   `json:"balance_after" db:"balance_after"`
	Timestamp             time.Time         `json:"timestamp" db:"created_at"`
	Description           string            `json:"description" db:"description"`
	CounterpartyAccountID string            `json:"counterparty_account_id,omitempty" db:"counterparty_account_id"`
	Status                TransactionStatus `json:"status" db:"status"`
}

// NewTransaction builds a completed audit record with a fresh id.
func NewTransaction(accountID string, txnType TransactionType, amount, balanceAfter decimal.Decimal, description string, at time.Time) Transaction {
	return Transaction{
		TransactionID: uuid.New(),
		AccountID:     accountID,
		Type:          txnType,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Timestamp:     at,
		Description:   description,
		Status:        TransactionStatusCompleted,
	}
}

// NewTransferTransaction is NewTransaction with the counterparty set.
func NewTransferTransaction(accountID string, txnType TransactionType, amount, balanceAfter decimal.Decimal, description, counterpartyAccountID string, at time.Time) Transaction {
	txn := NewTransaction(accountID, txnType, amount, balanceAfter, description, at)
	txn.CounterpartyAccountID = counterpartyAccountID
	return txn
}

// OpenAccountRequest describes an account to provision. An empty
// AccountType means savings; an empty DailyWithdrawalLimit means the default.
type OpenAccountRequest struct {
	AccountID            string      `json:"account_id"`
	UserID               string      `json:"user_id"`
	PIN                  string      `json:"pin"`
	HolderName           string      `json:"holder_name"`
	AccountType          AccountType `json:"account_type"`
	InitialBalance       string      `json:"initial_balance"`
	DailyWithdrawalLimit string      `json:"daily_withdrawal_limit"`
}

// StartOfDay truncates t to midnight in t's own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
