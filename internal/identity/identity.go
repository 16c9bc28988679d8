// Package identity models the password-backed principals of the
// platform: tenant end users, platform developers and platform admins.
// All three share one credential state machine; only scoping differs.
package identity

import (
	"time"

	"authforge.dev/internal/ids"
)

// Kind discriminates the three identity populations.
type Kind string

const (
	KindEndUser   Kind = "end_user"
	KindDeveloper Kind = "developer"
	KindAdmin     Kind = "admin"
)

// EndUser is a tenant-scoped principal. Email uniqueness is per tenant.
type EndUser struct {
	ID        string
	TenantID  string
	Email     Email
	FirstName string
	LastName  string
	Credential
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEndUser registers an end user inside a tenant. The aggregate starts
// active and unverified and queues a Registered event.
func NewEndUser(tenantID string, email Email, passwordHash, firstName, lastName string, now time.Time) *EndUser {
	u := &EndUser{
		ID:        ids.New(),
		TenantID:  tenantID,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.PasswordHash = passwordHash
	u.Active = true
	u.record(Registered{Email: email.String()})
	return u
}

// Developer is a platform account that manages tenants. Email uniqueness
// is global.
type Developer struct {
	ID    string
	Email Email
	Credential
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDeveloper registers a platform developer account.
func NewDeveloper(email Email, passwordHash string, now time.Time) *Developer {
	d := &Developer{
		ID:        ids.New(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	d.PasswordHash = passwordHash
	d.Active = true
	d.record(Registered{Email: email.String()})
	return d
}

// Admin is a platform operator. Single or few instances, created during
// first-run bootstrap.
type Admin struct {
	ID    string
	Email Email
	Credential
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewAdmin creates a platform operator account. Admin emails are
// considered verified from the start.
func NewAdmin(email Email, passwordHash string, now time.Time) *Admin {
	a := &Admin{
		ID:        ids.New(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.PasswordHash = passwordHash
	a.Active = true
	a.EmailVerified = true
	a.record(Registered{Email: email.String()})
	return a
}
