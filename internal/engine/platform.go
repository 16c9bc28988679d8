package engine

import (
	"context"
	"errors"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/identity"
	"authforge.dev/internal/obs"
	"authforge.dev/internal/password"
	"authforge.dev/internal/store"
	"authforge.dev/internal/tenant"
	"authforge.dev/internal/token"
)

// RegisterDeveloper creates a platform developer account. Developer
// emails are globally unique.
func (e *Engine) RegisterDeveloper(ctx context.Context, emailRaw, plainPassword, sourceIP string) (*identity.Developer, error) {
	email, err := identity.NewEmail(emailRaw)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.Developers(ctx).FindByEmail(ctx, email.String()); err == nil {
		return nil, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, err
	}
	now := e.now()
	d := identity.NewDeveloper(email, hash, now)

	verify, err := token.NewOpaque()
	if err != nil {
		return nil, err
	}
	d.SetVerificationToken(verify, now.Add(verificationTTL))

	actor := audit.Actor{PerformedBy: email.String(), SourceIP: sourceIP}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Developers(ctx).Create(ctx, d); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), nil, actor, d.ID, auditEvents(d.Events()))
	})
	if err != nil {
		return nil, err
	}

	e.sendMail(ctx, MailVerification, email.String(), map[string]string{"token": verify})
	return d, nil
}

// LoginDeveloper authenticates a platform developer. Same algorithm as
// the tenant-scoped login minus the tenant lookup; tokens are signed
// with the platform secret and platform default TTLs apply.
func (e *Engine) LoginDeveloper(ctx context.Context, email, plainPassword, sourceIP, userAgent string) (*token.Pair, error) {
	return e.loginPlatform(ctx, identity.KindDeveloper, email, plainPassword, sourceIP, userAgent)
}

// LoginAdmin authenticates a platform operator.
func (e *Engine) LoginAdmin(ctx context.Context, email, plainPassword, sourceIP, userAgent string) (*token.Pair, error) {
	return e.loginPlatform(ctx, identity.KindAdmin, email, plainPassword, sourceIP, userAgent)
}

// platformSubject adapts Developer and Admin to one login path. The two
// kinds differ only in which substore persists them.
type platformSubject struct {
	id      string
	email   identity.Email
	cred    *identity.Credential
	persist func(ctx context.Context, tx store.Store) error
}

func (e *Engine) findPlatformSubject(ctx context.Context, tx store.Store, kind identity.Kind, email string) (*platformSubject, error) {
	switch kind {
	case identity.KindDeveloper:
		d, err := tx.Developers(ctx).FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return &platformSubject{
			id:    d.ID,
			email: d.Email,
			cred:  &d.Credential,
			persist: func(ctx context.Context, tx store.Store) error {
				return tx.Developers(ctx).Update(ctx, d)
			},
		}, nil
	case identity.KindAdmin:
		a, err := tx.Admins(ctx).FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		return &platformSubject{
			id:    a.ID,
			email: a.Email,
			cred:  &a.Credential,
			persist: func(ctx context.Context, tx store.Store) error {
				return tx.Admins(ctx).Update(ctx, a)
			},
		}, nil
	}
	return nil, store.ErrNotFound
}

func (e *Engine) loginPlatform(ctx context.Context, kind identity.Kind, emailRaw, plainPassword, sourceIP, userAgent string) (*token.Pair, error) {
	subj, err := e.findPlatformSubject(ctx, e.store, kind, normalizeEmail(emailRaw))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			obs.LoginsTotal.WithLabelValues(string(kind), "invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := e.now()
	if subj.cred.IsLockedOut(now) {
		obs.LoginsTotal.WithLabelValues(string(kind), "locked_out").Inc()
		return nil, &identity.LockedOutError{Until: *subj.cred.LockedOutUntil}
	}
	if !subj.cred.Active {
		return nil, identity.ErrInactive
	}

	settings := tenant.DefaultSecuritySettings()
	actor := audit.Actor{PerformedBy: subj.email.String(), SourceIP: sourceIP}

	// subj is a pre-transaction snapshot; every credential mutation
	// below re-reads the row inside the transaction so a lockout set by
	// a concurrent attempt is observed, never overwritten.
	if err := password.Verify(subj.cred.PasswordHash, plainPassword); err != nil {
		crossed := false
		txErr := e.store.WithinTx(ctx, func(tx store.Store) error {
			fresh, err := e.findPlatformSubject(ctx, tx, kind, subj.email.String())
			if err != nil {
				return err
			}
			if fresh.cred.IsLockedOut(now) {
				return &identity.LockedOutError{Until: *fresh.cred.LockedOutUntil}
			}
			fresh.cred.RecordFailedLogin(now, settings.MaxFailedAttempts, settings.LockoutWindow())
			crossed = fresh.cred.IsLockedOut(now)
			if err := fresh.persist(ctx, tx); err != nil {
				return err
			}
			return e.recorder.Record(ctx, tx.Audit(ctx), nil, actor, fresh.id, auditEvents(fresh.cred.Events()))
		})
		var lockedErr *identity.LockedOutError
		if errors.As(txErr, &lockedErr) {
			obs.LoginsTotal.WithLabelValues(string(kind), "locked_out").Inc()
			return nil, lockedErr
		}
		if txErr != nil {
			return nil, txErr
		}
		obs.LoginsTotal.WithLabelValues(string(kind), "invalid").Inc()
		if crossed {
			obs.LockoutsTotal.WithLabelValues(string(kind)).Inc()
		}
		return nil, ErrInvalidCredentials
	}

	pair, rec, err := e.mintPair(e.platformSecret, kind, subj.id, nil, string(kind), settings, sourceIP, userAgent)
	if err != nil {
		return nil, err
	}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		fresh, err := e.findPlatformSubject(ctx, tx, kind, subj.email.String())
		if err != nil {
			return err
		}
		if fresh.cred.IsLockedOut(now) {
			return &identity.LockedOutError{Until: *fresh.cred.LockedOutUntil}
		}
		fresh.cred.RecordSuccessfulLogin(now)
		if err := fresh.persist(ctx, tx); err != nil {
			return err
		}
		if err := tx.RefreshTokens(ctx).Create(ctx, rec); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), nil, actor, fresh.id, auditEvents(fresh.cred.Events()))
	})
	if err != nil {
		var lockedErr *identity.LockedOutError
		if errors.As(err, &lockedErr) {
			obs.LoginsTotal.WithLabelValues(string(kind), "locked_out").Inc()
		}
		return nil, err
	}
	obs.LoginsTotal.WithLabelValues(string(kind), "success").Inc()
	return pair, nil
}

// Bootstrap creates the first platform admin when none exists. Safe to
// run on every startup; a populated admins table makes it a no-op.
func (e *Engine) Bootstrap(ctx context.Context, emailRaw, plainPassword string) (*identity.Admin, error) {
	n, err := e.store.Admins(ctx).Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	email, err := identity.NewEmail(emailRaw)
	if err != nil {
		return nil, err
	}
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, err
	}
	a := identity.NewAdmin(email, hash, e.now())

	actor := audit.Actor{PerformedBy: "system"}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Admins(ctx).Create(ctx, a); err != nil {
			// A concurrent bootstrap won the race; treat as done.
			if errors.Is(err, store.ErrConflict) {
				return nil
			}
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), nil, actor, a.ID, auditEvents(a.Events()))
	})
	if err != nil {
		return nil, err
	}
	obs.Log("info", "bootstrap admin created", map[string]any{"email": email.String()})
	return a, nil
}
