package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Limits are the monetary rules the ledger enforces.
type Limits struct {
	MinimumBalance         decimal.Decimal
	MinWithdrawal          decimal.Decimal
	MaxWithdrawal          decimal.Decimal
	WithdrawalDenomination decimal.Decimal
	MaxDeposit             decimal.Decimal
	MinTransfer            decimal.Decimal
	MaxTransfer            decimal.Decimal
}

func DefaultLimits() Limits {
	return Limits{
		MinimumBalance:         decimal.NewFromInt(500),
		MinWithdrawal:          decimal.NewFromInt(100),
		MaxWithdrawal:          decimal.NewFromInt(40000),
		WithdrawalDenomination: decimal.NewFromInt(100),
		MaxDeposit:             decimal.NewFromInt(200000),
		MinTransfer:            decimal.RequireFromString("1.00"),
		MaxTransfer:            decimal.NewFromInt(100000),
	}
}

func (l Limits) Validate() error {
	switch {
	case l.MinimumBalance.IsNegative():
		return fmt.Errorf("minimum balance cannot be negative")
	case !l.MinWithdrawal.IsPositive() || l.MaxWithdrawal.LessThan(l.MinWithdrawal):
		return fmt.Errorf("withdrawal bounds must satisfy 0 < min <= max")
	case !l.WithdrawalDenomination.IsPositive():
		return fmt.Errorf("withdrawal denomination must be positive")
	case !l.MaxDeposit.IsPositive():
		return fmt.Errorf("maximum deposit must be positive")
	case !l.MinTransfer.IsPositive() || l.MaxTransfer.LessThan(l.MinTransfer):
		return fmt.Errorf("transfer bounds must satisfy 0 < min <= max")
	}
	return nil
}

// money renders an amount the way reasons quote it.
func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
