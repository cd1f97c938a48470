package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every business-rule failure returned by LedgerService wraps
// exactly one of these, so callers can branch with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNoActiveSession      = errors.New("no active session")
	ErrAccountLocked        = errors.New("account locked")
	ErrAccountUnavailable   = errors.New("account unavailable")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrBelowMinimum         = errors.New("amount below minimum")
	ErrAboveMaximum         = errors.New("amount above maximum")
	ErrInvalidDenomination  = errors.New("invalid denomination")
	ErrDailyLimitExceeded   = errors.New("daily limit exceeded")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAccountFormat = errors.New("invalid account format")
	ErrSelfTransfer         = errors.New("self transfer")
	ErrAccountNotFound      = errors.New("account not found")
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrIncorrectPIN         = errors.New("incorrect pin")
	ErrInvalidPIN           = errors.New("invalid pin")
	ErrPINUnchanged         = errors.New("pin unchanged")
	ErrPINMismatch          = errors.New("pin mismatch")
	ErrWeakPIN              = errors.New("weak pin")
)

// LedgerError is a business-rule failure: a kind plus a human-readable reason.
type LedgerError struct {
	Kind   error
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Reason
}

func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newLedgerError(kind error, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapLedgerError(kind error, cause error, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the error kind carried by err, or nil if err is not a ledger failure.
func KindOf(err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}
