package service

import (
	"errors"
	"strings"
)

// ErrInvalidCode is returned for currency codes that are not 2-10 ASCII letters or digits.
var ErrInvalidCode = errors.New("invalid currency code format")

// IsValidCurrencyCode checks the shape of a currency code, not whether it is tracked.
func IsValidCurrencyCode(code string) bool {
	if len(code) < 2 || len(code) > 10 {
		return false
	}
	for _, c := range strings.ToUpper(code) {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// NormalizeCode validates and upper-cases a currency code.
func NormalizeCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !IsValidCurrencyCode(code) {
		return "", ErrInvalidCode
	}
	return strings.ToUpper(code), nil
}
