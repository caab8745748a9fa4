package otp

import (
	"strings"

	dErrors "ravegate/pkg/domain-errors"
)

const maxNationalDigits = 15

// PhoneNumber pairs a country calling code with a national digit string.
// Concatenation of the two forms the dispatchable E.164 address; the value
// is never persisted on its own.
type PhoneNumber struct {
	CallingCode string
	National    string
}

// NewPhoneNumber normalizes and validates the pair. National input keeps
// digits only; spacing and punctuation carry display significance, nothing
// more. The minimum-length threshold is enforced by the caller, not here.
func NewPhoneNumber(callingCode, national string) (PhoneNumber, error) {
	if !validCallingCode(callingCode) {
		return PhoneNumber{}, dErrors.New(dErrors.CodeBadRequest, "calling code must be + followed by 1-4 digits")
	}

	digits := digitsOnly(national)
	if digits == "" {
		return PhoneNumber{}, dErrors.New(dErrors.CodeBadRequest, "phone number is empty")
	}
	if len(digits) > maxNationalDigits {
		return PhoneNumber{}, dErrors.New(dErrors.CodeBadRequest, "phone number too long")
	}

	return PhoneNumber{CallingCode: callingCode, National: digits}, nil
}

// E164 returns the dispatchable address.
func (p PhoneNumber) E164() string {
	return p.CallingCode + p.National
}

// Digits returns the count of national digits.
func (p PhoneNumber) Digits() int {
	return len(p.National)
}

func validCallingCode(cc string) bool {
	if !strings.HasPrefix(cc, "+") {
		return false
	}
	rest := cc[1:]
	if len(rest) < 1 || len(rest) > 4 {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
