package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"user1", true},
		{"abc", true},
		{"ABCdef12345678901234", true},
		{"ab", false},
		{"ABCdef123456789012345", false},
		{"user_1", false},
		{"", false},
		{" user1", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidUserID(tt.id), "id %q", tt.id)
	}
}

func TestIsValidPIN(t *testing.T) {
	assert.True(t, IsValidPIN("0000"))
	assert.True(t, IsValidPIN("1357"))
	assert.False(t, IsValidPIN("123"))
	assert.False(t, IsValidPIN("12345"))
	assert.False(t, IsValidPIN("12a4"))
	assert.False(t, IsValidPIN("١٢٣٤"))
}

func TestIsValidAccountID(t *testing.T) {
	assert.True(t, IsValidAccountID("ACC1001"))
	assert.True(t, IsValidAccountID("ZZZZZ"))
	assert.False(t, IsValidAccountID("acc1001"))
	assert.False(t, IsValidAccountID("AC01"))
	assert.False(t, IsValidAccountID("ACC-1001"))
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 1500.50 ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("1500.50")))

	for _, bad := range []string{"", "abc", "0", "-5", "1,000", "0.005", "10.001"} {
		_, err := ParseAmount(bad)
		assert.Error(t, err, "amount %q", bad)
		assert.False(t, IsValidAmountString(bad), "amount %q", bad)
	}
	assert.True(t, IsValidAmountString("0.01"))
	assert.True(t, IsValidAmountString("100.000"), "trailing zeros are still whole cents")
}

func TestHasCentPrecision(t *testing.T) {
	assert.True(t, HasCentPrecision(decimal.RequireFromString("50000")))
	assert.True(t, HasCentPrecision(decimal.RequireFromString("12.3")))
	assert.True(t, HasCentPrecision(decimal.RequireFromString("12.340")))
	assert.False(t, HasCentPrecision(decimal.RequireFromString("0.005")))
	assert.False(t, HasCentPrecision(decimal.RequireFromString("-1.999")))
}

func TestIsWeakPIN(t *testing.T) {
	weak := []string{"1111", "0000", "1234", "6789", "4321", "3210", "123", "abcd"}
	for _, pin := range weak {
		assert.True(t, IsWeakPIN(pin), "pin %q", pin)
	}

	strong := []string{"1357", "1243", "9012", "1112", "2468"}
	for _, pin := range strong {
		assert.False(t, IsWeakPIN(pin), "pin %q", pin)
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "user1", SanitizeInput("  user1 "))
	assert.Equal(t, "dropTABLE", SanitizeInput("drop TABLE;"))
	assert.Equal(t, "a.b@c-d_e", SanitizeInput("a.b@c-d_e"))
}

func TestMaskAccountID(t *testing.T) {
	assert.Equal(t, "***1001", MaskAccountID("ACC1001"))
	assert.Equal(t, "1001", MaskAccountID("1001"))
	assert.Equal(t, "****", MaskAccountID("AB"))
}
