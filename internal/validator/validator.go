// Package validator holds the pure input-shape checks run before any ledger
// state is consulted.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	userIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9]{3,20}$`)
	pinPattern       = regexp.MustCompile(`^[0-9]{4}$`)
	accountIDPattern = regexp.MustCompile(`^[A-Z0-9]{5,20}$`)
	unsafeChars      = regexp.MustCompile(`[^a-zA-Z0-9._@-]`)
)

// IsValidUserID reports whether id is 3-20 ASCII letters or digits.
func IsValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// IsValidPIN reports whether pin is exactly four ASCII digits.
func IsValidPIN(pin string) bool {
	return pinPattern.MatchString(pin)
}

// IsValidAccountID reports whether id is 5-20 uppercase letters or digits.
func IsValidAccountID(id string) bool {
	return accountIDPattern.MatchString(id)
}

// IsValidAmountString reports whether s parses as a positive decimal.
func IsValidAmountString(s string) bool {
	_, err := ParseAmount(s)
	return err == nil
}

// HasCentPrecision reports whether amount is a whole number of cents.
func HasCentPrecision(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(2))
}

// ParseAmount parses a positive decimal amount of at most two decimal places.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %s", s)
	}

	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be greater than zero")
	}
	if !HasCentPrecision(amount) {
		return decimal.Zero, fmt.Errorf("amount cannot have more than 2 decimal places")
	}

	return amount, nil
}

// IsWeakPIN reports whether pin is four repeated digits or a strictly
// ascending or descending consecutive run. Anything that is not a valid
// four-digit PIN counts as weak.
func IsWeakPIN(pin string) bool {
	if !IsValidPIN(pin) {
		return true
	}

	repeated, ascending, descending := true, true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		repeated = repeated && diff == 0
		ascending = ascending && diff == 1
		descending = descending && diff == -1
	}

	return repeated || ascending || descending
}

// SanitizeInput trims s and drops every character outside [a-zA-Z0-9._@-].
func SanitizeInput(s string) string {
	return unsafeChars.ReplaceAllString(strings.TrimSpace(s), "")
}

// MaskAccountID hides all but the last four characters of id.
func MaskAccountID(id string) string {
	if len(id) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}
