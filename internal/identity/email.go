package identity

import (
	"net/mail"
	"strings"
)

// Email is a validated, canonicalized email address. The zero value is
// empty and invalid; construct through NewEmail.
type Email struct {
	value string
}

// NewEmail trims, lowercases and validates the address.
func NewEmail(raw string) (Email, error) {
	canonical := strings.ToLower(strings.TrimSpace(raw))
	if canonical == "" {
		return Email{}, ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(canonical)
	if err != nil || addr.Address != canonical {
		return Email{}, ErrInvalidEmail
	}
	return Email{value: canonical}, nil
}

// EmailFromStorage rehydrates an address already canonicalized at write
// time. Persistence only; use NewEmail for untrusted input.
func EmailFromStorage(stored string) Email {
	return Email{value: stored}
}

func (e Email) String() string { return e.value }

func (e Email) IsZero() bool { return e.value == "" }
