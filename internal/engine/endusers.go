package engine

import (
	"context"
	"errors"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/identity"
	"authforge.dev/internal/obs"
	"authforge.dev/internal/password"
	"authforge.dev/internal/store"
	"authforge.dev/internal/token"
)

// RegisterInput carries the end-user registration command.
type RegisterInput struct {
	TenantID  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	SourceIP  string
}

// RegisterEndUser creates a tenant end user, queues a verification token
// on the identity and emails it after commit. Duplicate email in the
// same tenant fails with store.ErrConflict; the existence check is an
// optimization, the unique constraint is the guarantee.
func (e *Engine) RegisterEndUser(ctx context.Context, in RegisterInput) (*identity.EndUser, error) {
	app, err := e.activeApplication(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	email, err := identity.NewEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.EndUsers(ctx).FindByEmail(ctx, app.ID, email.String()); err == nil {
		return nil, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	now := e.now()
	u := identity.NewEndUser(app.ID, email, hash, in.FirstName, in.LastName, now)

	verify, err := token.NewOpaque()
	if err != nil {
		return nil, err
	}
	u.SetVerificationToken(verify, now.Add(verificationTTL))

	actor := audit.Actor{PerformedBy: email.String(), SourceIP: in.SourceIP}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.EndUsers(ctx).Create(ctx, u); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, u.ID, auditEvents(u.Events()))
	})
	if err != nil {
		return nil, err
	}

	e.sendMail(ctx, MailVerification, email.String(), map[string]string{
		"token":  verify,
		"tenant": app.Slug,
	})
	return u, nil
}

// LoginInput carries the end-user login command.
type LoginInput struct {
	TenantID  string
	Email     string
	Password  string
	SourceIP  string
	UserAgent string
}

// Login authenticates an end user and mints a token pair scoped to the
// tenant. Unknown email and wrong password are indistinguishable to the
// caller. A failed attempt persists the counter and its audit row in one
// transaction; crossing the threshold opens the lockout window.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*token.Pair, error) {
	app, err := e.activeApplication(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	u, err := e.store.EndUsers(ctx).FindByEmail(ctx, app.ID, normalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := e.now()
	if u.IsLockedOut(now) {
		obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "locked_out").Inc()
		return nil, &identity.LockedOutError{Until: *u.LockedOutUntil}
	}
	if !u.Active {
		return nil, identity.ErrInactive
	}

	actor := audit.Actor{PerformedBy: u.Email.String(), SourceIP: in.SourceIP}

	// The row read above is a pre-transaction snapshot. All credential
	// mutations below re-read the row inside the transaction so a
	// concurrent attempt that set the lockout is observed, never
	// overwritten by this stale copy.
	if err := password.Verify(u.PasswordHash, in.Password); err != nil {
		crossed := false
		txErr := e.store.WithinTx(ctx, func(tx store.Store) error {
			fresh, err := tx.EndUsers(ctx).Find(ctx, u.ID)
			if err != nil {
				return err
			}
			if fresh.IsLockedOut(now) {
				return &identity.LockedOutError{Until: *fresh.LockedOutUntil}
			}
			fresh.RecordFailedLogin(now, app.Settings.MaxFailedAttempts, app.Settings.LockoutWindow())
			crossed = fresh.IsLockedOut(now)
			if err := tx.EndUsers(ctx).Update(ctx, fresh); err != nil {
				return err
			}
			return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, u.ID, auditEvents(fresh.Events()))
		})
		var lockedErr *identity.LockedOutError
		if errors.As(txErr, &lockedErr) {
			obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "locked_out").Inc()
			return nil, lockedErr
		}
		if txErr != nil {
			return nil, txErr
		}
		obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "invalid").Inc()
		if crossed {
			obs.LockoutsTotal.WithLabelValues(string(identity.KindEndUser)).Inc()
		}
		return nil, ErrInvalidCredentials
	}

	secret, err := e.tenantSecret(app)
	if err != nil {
		return nil, err
	}
	pair, rec, err := e.mintPair(secret, identity.KindEndUser, u.ID, &app.ID, string(identity.KindEndUser), app.Settings, in.SourceIP, in.UserAgent)
	if err != nil {
		return nil, err
	}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		fresh, err := tx.EndUsers(ctx).Find(ctx, u.ID)
		if err != nil {
			return err
		}
		if fresh.IsLockedOut(now) {
			return &identity.LockedOutError{Until: *fresh.LockedOutUntil}
		}
		fresh.RecordSuccessfulLogin(now)
		if err := tx.EndUsers(ctx).Update(ctx, fresh); err != nil {
			return err
		}
		if err := tx.RefreshTokens(ctx).Create(ctx, rec); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, u.ID, auditEvents(fresh.Events()))
	})
	if err != nil {
		var lockedErr *identity.LockedOutError
		if errors.As(err, &lockedErr) {
			obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "locked_out").Inc()
		}
		return nil, err
	}
	obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "success").Inc()
	return pair, nil
}

// VerifyEmail consumes the verification token embedded on the identity.
func (e *Engine) VerifyEmail(ctx context.Context, tenantID, email, verificationToken string) error {
	app, err := e.activeApplication(ctx, tenantID)
	if err != nil {
		return err
	}
	u, err := e.store.EndUsers(ctx).FindByEmail(ctx, app.ID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return identity.ErrVerificationInvalid
		}
		return err
	}
	actor := audit.Actor{PerformedBy: u.Email.String()}
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		fresh, err := tx.EndUsers(ctx).Find(ctx, u.ID)
		if err != nil {
			return err
		}
		if err := fresh.VerifyEmail(verificationToken, e.now()); err != nil {
			return err
		}
		if err := tx.EndUsers(ctx).Update(ctx, fresh); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, u.ID, auditEvents(fresh.Events()))
	})
}

// ForgotPassword issues a reset token and emails it. The return is
// uniform whether or not the email exists; only genuine infrastructure
// failures surface.
func (e *Engine) ForgotPassword(ctx context.Context, tenantID, email, sourceIP string) error {
	app, err := e.activeApplication(ctx, tenantID)
	if err != nil {
		return err
	}
	u, err := e.store.EndUsers(ctx).FindByEmail(ctx, app.ID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	opaque, err := token.NewOpaque()
	if err != nil {
		return err
	}
	rec := token.NewResetRecord(identity.KindEndUser, u.ID, opaque, e.now(), resetTTL)
	u.RequestPasswordReset()

	actor := audit.Actor{PerformedBy: u.Email.String(), SourceIP: sourceIP}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.ResetTokens(ctx).Replace(ctx, rec); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, u.ID, auditEvents(u.Events()))
	})
	if err != nil {
		return err
	}

	e.sendMail(ctx, MailPasswordReset, u.Email.String(), map[string]string{
		"token":  opaque,
		"tenant": app.Slug,
	})
	return nil
}

// ResetPassword consumes a reset token, replaces the password and
// revokes every active refresh token of the identity. A password reset
// is a declared intent to end all other sessions.
func (e *Engine) ResetPassword(ctx context.Context, tenantID, email, resetToken, newPassword string) error {
	app, err := e.activeApplication(ctx, tenantID)
	if err != nil {
		return err
	}
	u, err := e.store.EndUsers(ctx).FindByEmail(ctx, app.ID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return token.ErrInvalid
		}
		return err
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	now := e.now()
	actor := audit.Actor{PerformedBy: u.Email.String()}
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		rec, err := tx.ResetTokens(ctx).FindByHash(ctx, token.HashOpaque(resetToken))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return token.ErrInvalid
			}
			return err
		}
		if rec.IdentityKind != identity.KindEndUser || rec.IdentityID != u.ID {
			return token.ErrInvalid
		}
		if err := rec.Consume(now); err != nil {
			return err
		}
		if err := tx.ResetTokens(ctx).Update(ctx, rec); err != nil {
			return err
		}
		fresh, err := tx.EndUsers(ctx).Find(ctx, u.ID)
		if err != nil {
			return err
		}
		fresh.UpdatePassword(hash)
		if err := tx.EndUsers(ctx).Update(ctx, fresh); err != nil {
			return err
		}
		if _, err := tx.RefreshTokens(ctx).RevokeAllForIdentity(ctx, identity.KindEndUser, u.ID, now); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, u.ID, auditEvents(fresh.Events()))
	})
}

// normalizeEmail applies the same canonicalization as NewEmail without
// rejecting lookups for addresses that would fail validation today.
func normalizeEmail(raw string) string {
	e, err := identity.NewEmail(raw)
	if err != nil {
		return raw
	}
	return e.String()
}
