package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidCurrencyCode(t *testing.T) {
	tests := []struct {
		code  string
		valid bool
	}{
		{"BTC", true},
		{"usd", true},
		{"EU", true},
		{"USDT2", true},
		{"ABCDEFGHIJ", true},
		{"A", false},
		{"ABCDEFGHIJK", false},
		{"", false},
		{"US$", false},
		{"БТК", false},
		{"B-C", false},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.valid, IsValidCurrencyCode(tc.code))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	got, err := NormalizeCode("  eth ")
	assert.NoError(t, err)
	assert.Equal(t, "ETH", got)

	_, err = NormalizeCode("e")
	assert.ErrorIs(t, err, ErrInvalidCode)
}
