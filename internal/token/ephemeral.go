package token

import (
	"time"

	"github.com/google/uuid"

	"authforge.dev/internal/identity"
)

// ResetRecord is a single-use, time-boxed password-reset token proving
// access to an email inbox. At most one unused record exists per
// identity at a time; issuing replaces any outstanding one.
type ResetRecord struct {
	ID           string
	IdentityKind identity.Kind
	IdentityID   string
	TokenHash    string
	ExpiresAt    time.Time
	Used         bool
	UsedAt       *time.Time
	CreatedAt    time.Time
}

// NewResetRecord mints the ledger row for a fresh reset token.
func NewResetRecord(kind identity.Kind, identityID, opaque string, now time.Time, ttl time.Duration) *ResetRecord {
	return &ResetRecord{
		ID:           uuid.NewString(),
		IdentityKind: kind,
		IdentityID:   identityID,
		TokenHash:    HashOpaque(opaque),
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
}

// Consume validates and burns the token. Order matters: a matched but
// used token reports AlreadyUsed even when also expired.
func (r *ResetRecord) Consume(now time.Time) error {
	if r.Used {
		return ErrAlreadyUsed
	}
	if now.After(r.ExpiresAt) {
		return ErrExpired
	}
	r.Used = true
	t := now
	r.UsedAt = &t
	return nil
}
