package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/identity"
	"authforge.dev/internal/store"
	"authforge.dev/internal/tenant"
	"authforge.dev/internal/token"
)

// memStore is an in-memory store.Store for engine tests. Aggregates are
// cloned on read so uncommitted mutations by a handler stay invisible
// until Update writes them back, matching the relational contract.
type memStore struct {
	mu         sync.Mutex
	apps       map[string]*tenant.Application
	endUsers   map[string]*identity.EndUser
	developers map[string]*identity.Developer
	admins     map[string]*identity.Admin
	refresh    map[string]*token.RefreshRecord // by token hash
	resets     map[string]*token.ResetRecord   // by token hash
	auditRows  []*audit.Entry

	failAudit bool
	inTx      bool

	// beforeTx runs once at the start of the next top-level WithinTx,
	// after the caller's pre-transaction reads. Tests use it to slip a
	// concurrent write into that window.
	beforeTx func()
}

// memSnapshot captures the full store state so WithinTx can roll back.
type memSnapshot struct {
	apps       map[string]*tenant.Application
	endUsers   map[string]*identity.EndUser
	developers map[string]*identity.Developer
	admins     map[string]*identity.Admin
	refresh    map[string]*token.RefreshRecord
	resets     map[string]*token.ResetRecord
	auditRows  []*audit.Entry
}

func cloneMap[V any](src map[string]*V) map[string]*V {
	dst := make(map[string]*V, len(src))
	for k, v := range src {
		cp := *v
		dst[k] = &cp
	}
	return dst
}

func (m *memStore) snapshot() memSnapshot {
	return memSnapshot{
		apps:       cloneMap(m.apps),
		endUsers:   cloneMap(m.endUsers),
		developers: cloneMap(m.developers),
		admins:     cloneMap(m.admins),
		refresh:    cloneMap(m.refresh),
		resets:     cloneMap(m.resets),
		auditRows:  append([]*audit.Entry(nil), m.auditRows...),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.apps = s.apps
	m.endUsers = s.endUsers
	m.developers = s.developers
	m.admins = s.admins
	m.refresh = s.refresh
	m.resets = s.resets
	m.auditRows = s.auditRows
}

func newMemStore() *memStore {
	return &memStore{
		apps:       map[string]*tenant.Application{},
		endUsers:   map[string]*identity.EndUser{},
		developers: map[string]*identity.Developer{},
		admins:     map[string]*identity.Admin{},
		refresh:    map[string]*token.RefreshRecord{},
		resets:     map[string]*token.ResetRecord{},
	}
}

func (m *memStore) Applications(context.Context) store.ApplicationStore { return memApps{m} }
func (m *memStore) EndUsers(context.Context) store.EndUserStore         { return memEndUsers{m} }
func (m *memStore) Developers(context.Context) store.DeveloperStore     { return memDevelopers{m} }
func (m *memStore) Admins(context.Context) store.AdminStore             { return memAdmins{m} }
func (m *memStore) RefreshTokens(context.Context) store.RefreshTokenStore {
	return memRefresh{m}
}
func (m *memStore) ResetTokens(context.Context) store.ResetTokenStore { return memResets{m} }
func (m *memStore) Audit(context.Context) store.AuditStore            { return memAudit{m} }

// WithinTx snapshots the maps before fn and restores them when fn
// errors, so a failing step rolls back the whole unit like a real
// transaction. Nested calls join the enclosing one.
func (m *memStore) WithinTx(_ context.Context, fn func(store.Store) error) error {
	m.mu.Lock()
	if m.inTx {
		m.mu.Unlock()
		return fn(m)
	}
	hook := m.beforeTx
	m.beforeTx = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	m.inTx = true
	snap := m.snapshot()
	m.mu.Unlock()

	err := fn(m)

	m.mu.Lock()
	if err != nil {
		m.restore(snap)
	}
	m.inTx = false
	m.mu.Unlock()
	return err
}

type memApps struct{ m *memStore }

func (s memApps) Create(_ context.Context, app *tenant.Application) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.apps {
		if a.Slug == app.Slug {
			return store.ErrConflict
		}
	}
	cp := *app
	s.m.apps[app.ID] = &cp
	return nil
}

func (s memApps) Find(_ context.Context, id string) (*tenant.Application, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.apps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s memApps) FindBySlug(_ context.Context, slug string) (*tenant.Application, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.apps {
		if a.Slug == slug {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s memApps) Update(_ context.Context, app *tenant.Application) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *app
	s.m.apps[app.ID] = &cp
	return nil
}

func (s memApps) List(context.Context) ([]*tenant.Application, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]*tenant.Application, 0, len(s.m.apps))
	for _, a := range s.m.apps {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

type memEndUsers struct{ m *memStore }

func (s memEndUsers) Create(_ context.Context, u *identity.EndUser) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, x := range s.m.endUsers {
		if x.TenantID == u.TenantID && x.Email.String() == u.Email.String() {
			return store.ErrConflict
		}
	}
	cp := *u
	s.m.endUsers[u.ID] = &cp
	return nil
}

func (s memEndUsers) Find(_ context.Context, id string) (*identity.EndUser, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.endUsers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s memEndUsers) FindByEmail(_ context.Context, tenantID, email string) (*identity.EndUser, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.endUsers {
		if u.TenantID == tenantID && u.Email.String() == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s memEndUsers) Update(_ context.Context, u *identity.EndUser) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *u
	s.m.endUsers[u.ID] = &cp
	return nil
}

func (s memEndUsers) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.endUsers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.m.endUsers, id)
	return nil
}

type memDevelopers struct{ m *memStore }

func (s memDevelopers) Create(_ context.Context, d *identity.Developer) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, x := range s.m.developers {
		if x.Email.String() == d.Email.String() {
			return store.ErrConflict
		}
	}
	cp := *d
	s.m.developers[d.ID] = &cp
	return nil
}

func (s memDevelopers) Find(_ context.Context, id string) (*identity.Developer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	d, ok := s.m.developers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s memDevelopers) FindByEmail(_ context.Context, email string) (*identity.Developer, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, d := range s.m.developers {
		if d.Email.String() == email {
			cp := *d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s memDevelopers) Update(_ context.Context, d *identity.Developer) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *d
	s.m.developers[d.ID] = &cp
	return nil
}

type memAdmins struct{ m *memStore }

func (s memAdmins) Create(_ context.Context, a *identity.Admin) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, x := range s.m.admins {
		if x.Email.String() == a.Email.String() {
			return store.ErrConflict
		}
	}
	cp := *a
	s.m.admins[a.ID] = &cp
	return nil
}

func (s memAdmins) Find(_ context.Context, id string) (*identity.Admin, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.admins[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s memAdmins) FindByEmail(_ context.Context, email string) (*identity.Admin, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, a := range s.m.admins {
		if a.Email.String() == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s memAdmins) Update(_ context.Context, a *identity.Admin) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *a
	s.m.admins[a.ID] = &cp
	return nil
}

func (s memAdmins) Count(context.Context) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return len(s.m.admins), nil
}

type memRefresh struct{ m *memStore }

func (s memRefresh) Create(_ context.Context, rec *token.RefreshRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.refresh[rec.TokenHash]; ok {
		return store.ErrConflict
	}
	cp := *rec
	s.m.refresh[rec.TokenHash] = &cp
	return nil
}

func (s memRefresh) FindByHash(_ context.Context, hash string) (*token.RefreshRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	rec, ok := s.m.refresh[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s memRefresh) Update(_ context.Context, rec *token.RefreshRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.refresh[rec.TokenHash]; !ok {
		return store.ErrNotFound
	}
	cp := *rec
	s.m.refresh[rec.TokenHash] = &cp
	return nil
}

func (s memRefresh) RevokeAllForIdentity(_ context.Context, kind identity.Kind, identityID string, at time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, rec := range s.m.refresh {
		if rec.IdentityKind == kind && rec.IdentityID == identityID && rec.RevokedAt == nil {
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s memRefresh) RevokeAllForTenant(_ context.Context, tenantID string, at time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for _, rec := range s.m.refresh {
		if rec.TenantID != nil && *rec.TenantID == tenantID && rec.RevokedAt == nil {
			t := at
			rec.RevokedAt = &t
			n++
		}
	}
	return n, nil
}

func (s memRefresh) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for hash, rec := range s.m.refresh {
		if rec.ExpiresAt.Before(before) {
			delete(s.m.refresh, hash)
			n++
		}
	}
	return n, nil
}

type memResets struct{ m *memStore }

func (s memResets) Replace(_ context.Context, rec *token.ResetRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for hash, r := range s.m.resets {
		if r.IdentityKind == rec.IdentityKind && r.IdentityID == rec.IdentityID && !r.Used {
			delete(s.m.resets, hash)
		}
	}
	cp := *rec
	s.m.resets[rec.TokenHash] = &cp
	return nil
}

func (s memResets) FindByHash(_ context.Context, hash string) (*token.ResetRecord, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	rec, ok := s.m.resets[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s memResets) Update(_ context.Context, rec *token.ResetRecord) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.resets[rec.TokenHash]; !ok {
		return store.ErrNotFound
	}
	cp := *rec
	s.m.resets[rec.TokenHash] = &cp
	return nil
}

func (s memResets) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var n int64
	for hash, rec := range s.m.resets {
		if rec.Used || rec.ExpiresAt.Before(before) {
			delete(s.m.resets, hash)
			n++
		}
	}
	return n, nil
}

type memAudit struct{ m *memStore }

var errAuditDown = errors.New("audit store unavailable")

func (s memAudit) Append(_ context.Context, entry *audit.Entry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.failAudit {
		return errAuditDown
	}
	cp := *entry
	s.m.auditRows = append(s.m.auditRows, &cp)
	return nil
}

func (m *memStore) auditEventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.auditRows))
	for _, e := range m.auditRows {
		out = append(out, e.EventType)
	}
	return out
}
