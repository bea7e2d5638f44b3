// Package validator checks device identifiers submitted by users.
package validator

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinLength  = 8
	MaxLength  = 17
	luhnLength = 15
)

var (
	ErrFormat   = errors.New("invalid identifier format")
	ErrChecksum = errors.New("identifier checksum mismatch")
)

// Validate strips every non-digit from raw and returns the cleaned identifier.
// A cleaned identifier of exactly 15 digits must also pass the Luhn checksum.
func Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: identifier cannot be empty", ErrFormat)
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	if clean == "" {
		return "", fmt.Errorf("%w: identifier must contain digits only", ErrFormat)
	}
	if len(clean) < MinLength || len(clean) > MaxLength {
		return "", fmt.Errorf("%w: identifier must have between %d and %d digits", ErrFormat, MinLength, MaxLength)
	}
	if len(clean) == luhnLength && !Luhn(clean) {
		return "", fmt.Errorf("%w: check digit does not match", ErrChecksum)
	}
	return clean, nil
}

// Luhn reports whether digits satisfies the Luhn checksum. digits must be ASCII digits.
func Luhn(digits string) bool {
	sum := 0
	for i := 0; i < len(digits); i++ {
		n := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			n *= 2
			if n > 9 {
				n = n/10 + n%10
			}
		}
		sum += n
	}
	return sum%10 == 0
}
