package engine

import (
	"context"
	"time"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/identity"
	"authforge.dev/internal/store"
)

// Administrative operations on end users. Every transition persists with
// its audit row in one transaction; strict toggles surface
// AlreadyActive/AlreadyDeactivated rather than silently no-opping.

// LockUser opens a lockout window independent of the failed-attempt
// counter.
func (e *Engine) LockUser(ctx context.Context, userID string, d time.Duration, actor audit.Actor) error {
	return e.mutateEndUser(ctx, userID, actor, func(u *identity.EndUser) error {
		u.Lock(e.now(), d)
		return nil
	})
}

// UnlockUser clears the lockout and zeroes the failed counter.
func (e *Engine) UnlockUser(ctx context.Context, userID string, actor audit.Actor) error {
	return e.mutateEndUser(ctx, userID, actor, func(u *identity.EndUser) error {
		u.Unlock()
		return nil
	})
}

// ActivateUser re-enables a deactivated end user.
func (e *Engine) ActivateUser(ctx context.Context, userID string, actor audit.Actor) error {
	return e.mutateEndUser(ctx, userID, actor, func(u *identity.EndUser) error {
		return u.Activate()
	})
}

// DeactivateUser disables the account and revokes its refresh tokens.
func (e *Engine) DeactivateUser(ctx context.Context, userID string, actor audit.Actor) error {
	now := e.now()
	return e.mutateEndUserTx(ctx, userID, actor, func(tx store.Store, u *identity.EndUser) error {
		if err := u.Deactivate(); err != nil {
			return err
		}
		_, err := tx.RefreshTokens(ctx).RevokeAllForIdentity(ctx, identity.KindEndUser, u.ID, now)
		return err
	})
}

// ForceVerifyUser marks the email verified without a token.
func (e *Engine) ForceVerifyUser(ctx context.Context, userID string, actor audit.Actor) error {
	return e.mutateEndUser(ctx, userID, actor, func(u *identity.EndUser) error {
		return u.ForceVerifyEmail()
	})
}

// DeleteUser removes the end user, its refresh tokens and records the
// deletion. The audit row outlives the identity it describes.
func (e *Engine) DeleteUser(ctx context.Context, userID string, actor audit.Actor) error {
	now := e.now()
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		u, err := tx.EndUsers(ctx).Find(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.RefreshTokens(ctx).RevokeAllForIdentity(ctx, identity.KindEndUser, u.ID, now); err != nil {
			return err
		}
		if err := tx.EndUsers(ctx).Delete(ctx, u.ID); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &u.TenantID, actor, u.ID,
			[]audit.Event{identity.Deleted{}})
	})
}

func (e *Engine) mutateEndUser(ctx context.Context, userID string, actor audit.Actor, fn func(*identity.EndUser) error) error {
	return e.mutateEndUserTx(ctx, userID, actor, func(_ store.Store, u *identity.EndUser) error {
		return fn(u)
	})
}

func (e *Engine) mutateEndUserTx(ctx context.Context, userID string, actor audit.Actor, fn func(store.Store, *identity.EndUser) error) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		u, err := tx.EndUsers(ctx).Find(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(tx, u); err != nil {
			return err
		}
		if err := tx.EndUsers(ctx).Update(ctx, u); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &u.TenantID, actor, u.ID, auditEvents(u.Events()))
	})
}
