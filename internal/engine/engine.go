// Package engine implements the command handlers of the credential and
// session lifecycle: registration, login, token rotation, password
// reset, email verification and the administrative operations on
// identities and tenant applications. Handlers load aggregates from the
// store, invoke aggregate behavior, mint tokens, and persist state and
// audit rows in one transaction. Outbound collaborators (email, OAuth
// exchange) run outside any transaction boundary.
package engine

import (
	"context"
	"errors"
	"time"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/identity"
	"authforge.dev/internal/obs"
	"authforge.dev/internal/store"
	"authforge.dev/internal/tenant"
	"authforge.dev/internal/token"
	"authforge.dev/internal/vault"
)

// ErrInvalidCredentials merges "no such identity" and "wrong password"
// so callers cannot enumerate registered emails.
var ErrInvalidCredentials = errors.New("engine: invalid credentials")

// ForgotPasswordMessage is returned by ForgotPassword regardless of
// whether the email exists.
const ForgotPasswordMessage = "If the email address is registered, a password reset link has been sent."

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour
)

// MailKind selects an outbound email template.
type MailKind string

const (
	MailVerification  MailKind = "verification"
	MailPasswordReset MailKind = "password_reset"
)

// Mailer dispatches templated email. Implementations own their timeout
// and retry behavior; the engine calls Send only after the surrounding
// transaction committed and logs failures without rolling anything back.
type Mailer interface {
	Send(ctx context.Context, kind MailKind, recipient string, vars map[string]string) error
}

// OAuthIdentity is the result of exchanging a provider code.
type OAuthIdentity struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
}

// OAuthExchanger turns a provider authorization code into a verified
// identity claim. The code exchange itself happens outside the engine.
type OAuthExchanger interface {
	Exchange(ctx context.Context, provider, code string) (*OAuthIdentity, error)
}

// Engine executes commands against the store. Stateless; safe for
// concurrent use.
type Engine struct {
	store          store.Store
	vault          *vault.Vault
	issuer         *token.Issuer
	recorder       *audit.Recorder
	mailer         Mailer
	oauth          OAuthExchanger
	platformSecret []byte
	now            func() time.Time
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests). The issuer and
// audit recorder share the same clock.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithMailer installs the outbound email collaborator. Without one,
// verification and reset emails are skipped and logged.
func WithMailer(m Mailer) Option {
	return func(e *Engine) { e.mailer = m }
}

// WithOAuthExchanger installs the OAuth collaborator used by
// LoginWithProvider.
func WithOAuthExchanger(x OAuthExchanger) Option {
	return func(e *Engine) { e.oauth = x }
}

// New constructs an Engine. platformSecret signs access tokens for
// developer and admin identities; tenant end users sign with their
// application's decrypted secret.
func New(st store.Store, v *vault.Vault, platformSecret string, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: store is required")
	}
	if v == nil {
		return nil, errors.New("engine: vault is required")
	}
	if platformSecret == "" {
		return nil, errors.New("engine: platform signing secret is required")
	}
	e := &Engine{
		store:          st,
		vault:          v,
		platformSecret: []byte(platformSecret),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.issuer = token.NewIssuer(token.WithClock(e.now))
	e.recorder = audit.NewRecorder(audit.WithClock(e.now))
	return e, nil
}

// activeApplication loads a tenant and rejects deactivated ones.
func (e *Engine) activeApplication(ctx context.Context, tenantID string) (*tenant.Application, error) {
	app, err := e.store.Applications(ctx).Find(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !app.Active {
		return nil, tenant.ErrInactive
	}
	return app, nil
}

// tenantSecret decrypts the application's signing secret. Failure means
// the master key changed since encryption and is fatal.
func (e *Engine) tenantSecret(app *tenant.Application) ([]byte, error) {
	plain, err := e.vault.Decrypt(app.JWTSecretEnc)
	if err != nil {
		return nil, err
	}
	return []byte(plain), nil
}

// mintPair issues an access/refresh pair and the ledger row backing the
// refresh half. The caller persists the row.
func (e *Engine) mintPair(secret []byte, kind identity.Kind, identityID string, tenantID *string, role string, settings tenant.SecuritySettings, ip, userAgent string) (*token.Pair, *token.RefreshRecord, error) {
	var claimTenant string
	if tenantID != nil {
		claimTenant = *tenantID
	}
	access, accessExp, err := e.issuer.MintAccess(secret, identityID, claimTenant, role, settings.AccessTokenTTL())
	if err != nil {
		return nil, nil, err
	}
	opaque, err := token.NewOpaque()
	if err != nil {
		return nil, nil, err
	}
	rec := token.NewRefreshRecord(kind, identityID, tenantID, opaque, ip, userAgent, e.now(), settings.RefreshTokenTTL())
	return &token.Pair{
		AccessToken:      access,
		RefreshToken:     opaque,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, rec, nil
}

// sendMail dispatches after commit. A mail failure never unwinds state;
// it is logged and dropped.
func (e *Engine) sendMail(ctx context.Context, kind MailKind, recipient string, vars map[string]string) {
	if e.mailer == nil {
		obs.Log("warn", "mailer not configured, skipping email", map[string]any{
			"kind":      string(kind),
			"recipient": recipient,
		})
		return
	}
	if err := e.mailer.Send(ctx, kind, recipient, vars); err != nil {
		obs.Log("error", "email dispatch failed", map[string]any{
			"kind":      string(kind),
			"recipient": recipient,
			"error":     err.Error(),
		})
	}
}

// auditEvents widens identity events to the recorder's interface.
func auditEvents(events []identity.Event) []audit.Event {
	out := make([]audit.Event, 0, len(events))
	for _, ev := range events {
		out = append(out, ev)
	}
	return out
}
