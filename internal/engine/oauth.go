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

// ErrNoOAuthExchanger is returned when LoginWithProvider is called
// without a configured exchanger.
var ErrNoOAuthExchanger = errors.New("engine: no oauth exchanger configured")

// LoginWithProvider exchanges a provider code for an identity claim and
// logs the matching end user in, auto-registering on first sight. The
// exchange happens before any transaction opens; provider failures never
// leave partial state. Accounts created this way get an unguessable
// random password and inherit the provider's verification status.
func (e *Engine) LoginWithProvider(ctx context.Context, tenantID, provider, code, sourceIP, userAgent string) (*token.Pair, error) {
	if e.oauth == nil {
		return nil, ErrNoOAuthExchanger
	}
	app, err := e.activeApplication(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	claim, err := e.oauth.Exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}
	email, err := identity.NewEmail(claim.Email)
	if err != nil {
		return nil, err
	}

	now := e.now()
	u, err := e.store.EndUsers(ctx).FindByEmail(ctx, app.ID, email.String())
	switch {
	case errors.Is(err, store.ErrNotFound):
		u, err = e.registerFromProvider(ctx, app.ID, email, claim, sourceIP)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if u.IsLockedOut(now) {
		obs.LoginsTotal.WithLabelValues(string(identity.KindEndUser), "locked_out").Inc()
		return nil, &identity.LockedOutError{Until: *u.LockedOutUntil}
	}
	if !u.Active {
		return nil, identity.ErrInactive
	}

	secret, err := e.tenantSecret(app)
	if err != nil {
		return nil, err
	}
	pair, rec, err := e.mintPair(secret, identity.KindEndUser, u.ID, &app.ID, string(identity.KindEndUser), app.Settings, sourceIP, userAgent)
	if err != nil {
		return nil, err
	}
	actor := audit.Actor{PerformedBy: u.Email.String(), SourceIP: sourceIP}
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

func (e *Engine) registerFromProvider(ctx context.Context, tenantID string, email identity.Email, claim *OAuthIdentity, sourceIP string) (*identity.EndUser, error) {
	// The account is provider-backed; the random password only exists
	// so the row satisfies the same shape as password registrations.
	random, err := token.NewOpaque()
	if err != nil {
		return nil, err
	}
	hash, err := password.Hash(random)
	if err != nil {
		return nil, err
	}
	first, last := splitName(claim.Name)
	u := identity.NewEndUser(tenantID, email, hash, first, last, e.now())
	if claim.EmailVerified {
		u.EmailVerified = true
	}

	actor := audit.Actor{PerformedBy: email.String(), SourceIP: sourceIP}
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.EndUsers(ctx).Create(ctx, u); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &tenantID, actor, u.ID, auditEvents(u.Events()))
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func splitName(full string) (first, last string) {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == ' ' {
			return full[:i], full[i+1:]
		}
	}
	return full, ""
}
