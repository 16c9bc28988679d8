// Package tenant owns the Application aggregate: an isolated customer
// namespace with its own end users, API keys, signing secret and
// security settings.
package tenant

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"authforge.dev/internal/identity"
	"authforge.dev/internal/ids"
)

var (
	ErrDuplicateSlug   = errors.New("tenant: slug already taken")
	ErrInvalidSlug     = errors.New("tenant: invalid slug")
	ErrAlreadyInactive = errors.New("tenant: already inactive")
	ErrAlreadyActive   = errors.New("tenant: already active")
	ErrInactive        = errors.New("tenant: application is deactivated")
)

// InvalidSettingsError reports a security setting outside its bounded
// range.
type InvalidSettingsError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *InvalidSettingsError) Error() string {
	return fmt.Sprintf("tenant: %s=%d outside allowed range %d..%d", e.Field, e.Value, e.Min, e.Max)
}

// SecuritySettings are the per-application knobs applied by the login
// and token paths.
type SecuritySettings struct {
	MaxFailedAttempts     int
	LockoutMinutes        int
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
}

// DefaultSecuritySettings are applied at application creation.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		MaxFailedAttempts:     5,
		LockoutMinutes:        15,
		AccessTokenTTLMinutes: 15,
		RefreshTokenTTLDays:   7,
	}
}

// Validate enforces the bounded ranges for every numeric setting.
func (s SecuritySettings) Validate() error {
	checks := []struct {
		field    string
		value    int
		min, max int
	}{
		{"max_failed_attempts", s.MaxFailedAttempts, 1, 10},
		{"lockout_minutes", s.LockoutMinutes, 1, 1440},
		{"access_token_ttl_minutes", s.AccessTokenTTLMinutes, 1, 1440},
		{"refresh_token_ttl_days", s.RefreshTokenTTLDays, 1, 90},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return &InvalidSettingsError{Field: c.field, Value: c.value, Min: c.min, Max: c.max}
		}
	}
	return nil
}

func (s SecuritySettings) AccessTokenTTL() time.Duration {
	return time.Duration(s.AccessTokenTTLMinutes) * time.Minute
}

func (s SecuritySettings) RefreshTokenTTL() time.Duration {
	return time.Duration(s.RefreshTokenTTLDays) * 24 * time.Hour
}

func (s SecuritySettings) LockoutWindow() time.Duration {
	return time.Duration(s.LockoutMinutes) * time.Minute
}

// EmailSettings hold the tenant's outbound email provider configuration.
// The SMTP password is stored encrypted through the vault.
type EmailSettings struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPasswordEnc string
	FromAddress     string
}

// Application is the tenant aggregate.
type Application struct {
	ID             string
	Name           string
	Slug           string
	PublicKey      string
	SecretKeyEnc   string
	JWTSecretEnc   string
	AllowedOrigins []string
	Settings       SecuritySettings
	Email          EmailSettings
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	events []identity.Event
}

// NewApplication creates an active application with default settings.
// secretKeyEnc and jwtSecretEnc are vault ciphertexts; the registry
// never stores plaintext secrets.
func NewApplication(name, slug, publicKey, secretKeyEnc, jwtSecretEnc string, now time.Time) (*Application, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !validSlug(slug) {
		return nil, ErrInvalidSlug
	}
	a := &Application{
		ID:           ids.New(),
		Name:         strings.TrimSpace(name),
		Slug:         slug,
		PublicKey:    publicKey,
		SecretKeyEnc: secretKeyEnc,
		JWTSecretEnc: jwtSecretEnc,
		Settings:     DefaultSecuritySettings(),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.record(Created{Name: a.Name, Slug: a.Slug})
	return a, nil
}

func validSlug(slug string) bool {
	if len(slug) < 2 || len(slug) > 64 {
		return false
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return slug[0] != '-' && slug[len(slug)-1] != '-'
}

func (a *Application) record(e identity.Event) {
	a.events = append(a.events, e)
}

// Events drains the queued domain events.
func (a *Application) Events() []identity.Event {
	out := a.events
	a.events = nil
	return out
}

// UpdateSettings validates and replaces the security settings.
func (a *Application) UpdateSettings(s SecuritySettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	a.Settings = s
	a.record(SettingsUpdated{Settings: s})
	return nil
}

// RegenerateKeys replaces the API key pair. The JWT signing secret is
// untouched: key rotation is independent of session invalidation.
func (a *Application) RegenerateKeys(publicKey, secretKeyEnc string) {
	a.PublicKey = publicKey
	a.SecretKeyEnc = secretKeyEnc
	a.record(KeysRegenerated{PublicKey: publicKey})
}

// RegenerateJWTSecret replaces the signing secret. The caller must also
// revoke every active refresh token of the application's end users in
// the same transaction; rotating the secret alone would only stop new
// validations, not already-issued refresh chains.
func (a *Application) RegenerateJWTSecret(jwtSecretEnc string) {
	a.JWTSecretEnc = jwtSecretEnc
	a.record(JWTSecretRegenerated{})
}

// SetAllowedOrigins replaces the allowed-origins set.
func (a *Application) SetAllowedOrigins(origins []string) {
	a.AllowedOrigins = origins
}

// UpdateEmailSettings replaces the email provider settings.
func (a *Application) UpdateEmailSettings(e EmailSettings) {
	a.Email = e
	a.record(EmailSettingsUpdated{})
}

// Deactivate is a strict toggle; idempotency is a caller responsibility.
func (a *Application) Deactivate() error {
	if !a.Active {
		return ErrAlreadyInactive
	}
	a.Active = false
	a.record(ApplicationDeactivated{})
	return nil
}

// Activate is the strict inverse of Deactivate.
func (a *Application) Activate() error {
	if a.Active {
		return ErrAlreadyActive
	}
	a.Active = true
	a.record(ApplicationActivated{})
	return nil
}

// GenerateKeyPair mints a public/secret API key pair. The secret is
// random and shown to the caller once; only its ciphertext is stored.
func GenerateKeyPair() (publicKey, secretKey string, err error) {
	publicKey = "pk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	secretKey = "sk_" + base64.RawURLEncoding.EncodeToString(raw)
	return publicKey, secretKey, nil
}

// GenerateSigningSecret mints a tenant-scoped HMAC signing secret.
func GenerateSigningSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
