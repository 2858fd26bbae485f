package identity

import (
	"fmt"
	"unicode"
)

const minPasswordLength = 8

// ValidateStrength checks a candidate password against the credential policy.
// It runs on the plaintext before any hashing; rules are evaluated in a fixed
// order and the first violated rule is the reported reason.
func ValidateStrength(candidate string) error {
	if len(candidate) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakCredential, minPasswordLength)
	}
	var upper, lower, digit, symbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("%w: must contain an uppercase letter", ErrWeakCredential)
	case !lower:
		return fmt.Errorf("%w: must contain a lowercase letter", ErrWeakCredential)
	case !digit:
		return fmt.Errorf("%w: must contain a digit", ErrWeakCredential)
	case !symbol:
		return fmt.Errorf("%w: must contain a symbol", ErrWeakCredential)
	}
	return nil
}
