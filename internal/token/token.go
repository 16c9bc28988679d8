// Package token mints and validates the credentials handed to clients:
// signed short-lived access tokens, opaque rotating refresh tokens and
// single-use ephemeral tokens for reset and verification flows.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer and DefaultAudience are the platform constants
	// embedded in every access token.
	DefaultIssuer   = "authforge"
	DefaultAudience = "authforge"

	typeAccess = "access"
)

var (
	ErrInvalid     = errors.New("token: invalid")
	ErrExpired     = errors.New("token: expired")
	ErrRevoked     = errors.New("token: revoked")
	ErrAlreadyUsed = errors.New("token: already used")
)

// AccessClaims is the claim set carried by access tokens. TenantID is
// empty for platform identities (developer, admin).
type AccessClaims struct {
	TenantID  string `json:"tenant,omitempty"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer signs and validates access tokens with HMAC-SHA256. The signing
// secret is supplied per call: tenant-scoped identities sign with the
// application's decrypted secret, platform identities with the platform
// secret.
type Issuer struct {
	issuer   string
	audience string
	now      func() time.Time
}

// Option configures Issuer behavior.
type Option func(*Issuer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// WithIssuerName overrides the iss/aud platform constant.
func WithIssuerName(name string) Option {
	return func(i *Issuer) {
		name = strings.TrimSpace(name)
		if name != "" {
			i.issuer = name
			i.audience = name
		}
	}
}

// NewIssuer constructs an Issuer with optional configuration.
func NewIssuer(opts ...Option) *Issuer {
	i := &Issuer{
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// MintAccess signs an access token for the subject.
func (i *Issuer) MintAccess(secret []byte, subject, tenantID, role string, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("token: signing secret is empty")
	}
	now := i.now()
	exp := now.Add(ttl)
	claims := AccessClaims{
		TenantID:  tenantID,
		Role:      role,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseAccess validates signature, issuer, audience, expiry and token
// type, returning the decoded claims.
func (i *Issuer) ParseAccess(secret []byte, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	if !parsed.Valid || claims.TokenType != typeAccess || claims.Subject == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

// Pair is the issuance result returned to clients. Constructed, never
// persisted directly.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
