// Package store describes persistence operations required by the engine.
// Implementations push correctness under concurrency down to the
// relational store: uniqueness constraints back the racy existence
// checks, and WithinTx provides the read-modify-write boundary.
package store

import (
	"context"
	"errors"
	"time"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/identity"
	"authforge.dev/internal/tenant"
	"authforge.dev/internal/token"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: already exists")
)

// Store groups the per-entity substores behind one handle.
type Store interface {
	Applications(ctx context.Context) ApplicationStore
	EndUsers(ctx context.Context) EndUserStore
	Developers(ctx context.Context) DeveloperStore
	Admins(ctx context.Context) AdminStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	ResetTokens(ctx context.Context) ResetTokenStore
	Audit(ctx context.Context) AuditStore

	// WithinTx runs fn against a transaction-bound Store. fn returning
	// an error rolls everything back; cancellation before commit leaves
	// no partial state visible.
	WithinTx(ctx context.Context, fn func(Store) error) error
}

// ApplicationStore manages tenant applications.
type ApplicationStore interface {
	Create(ctx context.Context, app *tenant.Application) error
	Find(ctx context.Context, id string) (*tenant.Application, error)
	FindBySlug(ctx context.Context, slug string) (*tenant.Application, error)
	Update(ctx context.Context, app *tenant.Application) error
	List(ctx context.Context) ([]*tenant.Application, error)
}

// EndUserStore manages tenant-scoped end users. Email uniqueness is per
// tenant and enforced by constraint.
type EndUserStore interface {
	Create(ctx context.Context, u *identity.EndUser) error
	Find(ctx context.Context, id string) (*identity.EndUser, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*identity.EndUser, error)
	Update(ctx context.Context, u *identity.EndUser) error
	Delete(ctx context.Context, id string) error
}

// DeveloperStore manages platform developer accounts. Email uniqueness
// is global.
type DeveloperStore interface {
	Create(ctx context.Context, d *identity.Developer) error
	Find(ctx context.Context, id string) (*identity.Developer, error)
	FindByEmail(ctx context.Context, email string) (*identity.Developer, error)
	Update(ctx context.Context, d *identity.Developer) error
}

// AdminStore manages platform operator accounts.
type AdminStore interface {
	Create(ctx context.Context, a *identity.Admin) error
	Find(ctx context.Context, id string) (*identity.Admin, error)
	FindByEmail(ctx context.Context, email string) (*identity.Admin, error)
	Update(ctx context.Context, a *identity.Admin) error
	Count(ctx context.Context) (int, error)
}

// RefreshTokenStore manages the rotating session ledger.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *token.RefreshRecord) error
	// FindByHash resolves a presented token by exact hash match. Inside
	// WithinTx the row is locked for update so concurrent rotations of
	// the same token serialize.
	FindByHash(ctx context.Context, hash string) (*token.RefreshRecord, error)
	Update(ctx context.Context, rec *token.RefreshRecord) error
	RevokeAllForIdentity(ctx context.Context, kind identity.Kind, identityID string, at time.Time) (int64, error)
	RevokeAllForTenant(ctx context.Context, tenantID string, at time.Time) (int64, error)
	// DeleteExpired removes rows past expiry regardless of revocation
	// status.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ResetTokenStore manages single-use password-reset tokens.
type ResetTokenStore interface {
	// Replace removes any unused token for the same identity and
	// inserts rec, bounding live tokens to one per identity.
	Replace(ctx context.Context, rec *token.ResetRecord) error
	FindByHash(ctx context.Context, hash string) (*token.ResetRecord, error)
	Update(ctx context.Context, rec *token.ResetRecord) error
	// DeleteExpired removes rows that are used or past expiry.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditStore appends immutable entries. Append failure must propagate so
// the surrounding transaction rolls back.
type AuditStore interface {
	Append(ctx context.Context, entry *audit.Entry) error
}
