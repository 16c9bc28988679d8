package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"authforge.dev/internal/identity"
)

// NewOpaque returns a URL-safe opaque token string with 32 bytes of
// entropy, base64url-encoded without padding. The server is the only
// party able to resolve it, via exact-match lookup on its hash.
func NewOpaque() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashOpaque is the at-rest form of an opaque token. Only hashes touch
// the database, so a leaked ledger cannot be replayed.
func HashOpaque(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// RefreshRecord is one issued session-continuation credential.
type RefreshRecord struct {
	ID           string
	IdentityKind identity.Kind
	IdentityID   string
	TenantID     *string
	TokenHash    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	RevokedAt    *time.Time
	// ReplacedByHash points at the successor token's hash after
	// rotation. An audit chain, not a working pointer.
	ReplacedByHash *string
	IP             string
	UserAgent      string
}

// NewRefreshRecord mints the ledger row for a fresh opaque token.
func NewRefreshRecord(kind identity.Kind, identityID string, tenantID *string, opaque, ip, userAgent string, now time.Time, ttl time.Duration) *RefreshRecord {
	return &RefreshRecord{
		ID:           uuid.NewString(),
		IdentityKind: kind,
		IdentityID:   identityID,
		TenantID:     tenantID,
		TokenHash:    HashOpaque(opaque),
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
		IP:           ip,
		UserAgent:    userAgent,
	}
}

// Expired reports whether the record is past its expiry.
func (r *RefreshRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Revoked reports whether the record was revoked by rotation, logout or
// a security event.
func (r *RefreshRecord) Revoked() bool {
	return r.RevokedAt != nil
}
