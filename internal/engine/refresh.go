package engine

import (
	"context"
	"errors"

	"authforge.dev/internal/identity"
	"authforge.dev/internal/obs"
	"authforge.dev/internal/store"
	"authforge.dev/internal/tenant"
	"authforge.dev/internal/token"
)

// Refresh rotates a refresh token: the presented token is revoked, a
// fresh pair is minted and the old row points at its successor's hash.
// The whole exchange runs in one transaction with the token row locked,
// so two concurrent calls presenting the same token yield exactly one
// success. Presenting an already-rotated token is treated as potential
// theft and fails with ErrRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken, sourceIP, userAgent string) (*token.Pair, error) {
	var pair *token.Pair
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		now := e.now()
		rec, err := tx.RefreshTokens(ctx).FindByHash(ctx, token.HashOpaque(refreshToken))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return token.ErrInvalid
			}
			return err
		}
		if rec.Revoked() {
			return token.ErrRevoked
		}
		if rec.Expired(now) {
			return token.ErrExpired
		}

		secret, settings, role, err := e.resolveOwner(ctx, tx, rec)
		if err != nil {
			return err
		}

		next, nextRec, err := e.mintPair(secret, rec.IdentityKind, rec.IdentityID, rec.TenantID, role, settings, sourceIP, userAgent)
		if err != nil {
			return err
		}
		rec.RevokedAt = &now
		rec.ReplacedByHash = &nextRec.TokenHash
		if err := tx.RefreshTokens(ctx).Update(ctx, rec); err != nil {
			return err
		}
		if err := tx.RefreshTokens(ctx).Create(ctx, nextRec); err != nil {
			return err
		}
		pair = next
		return nil
	})
	if err != nil {
		obs.TokenRotationsTotal.WithLabelValues(rotationOutcome(err)).Inc()
		return nil, err
	}
	obs.TokenRotationsTotal.WithLabelValues("success").Inc()
	return pair, nil
}

// resolveOwner loads the identity behind a refresh record, rejecting
// inactive identities and tenants, and returns the signing secret, TTL
// settings and role claim for the mint.
func (e *Engine) resolveOwner(ctx context.Context, tx store.Store, rec *token.RefreshRecord) ([]byte, tenant.SecuritySettings, string, error) {
	var none tenant.SecuritySettings
	switch rec.IdentityKind {
	case identity.KindEndUser:
		if rec.TenantID == nil {
			return nil, none, "", token.ErrInvalid
		}
		app, err := tx.Applications(ctx).Find(ctx, *rec.TenantID)
		if err != nil {
			return nil, none, "", err
		}
		if !app.Active {
			return nil, none, "", tenant.ErrInactive
		}
		u, err := tx.EndUsers(ctx).Find(ctx, rec.IdentityID)
		if err != nil {
			return nil, none, "", err
		}
		if !u.Active {
			return nil, none, "", identity.ErrInactive
		}
		secret, err := e.tenantSecret(app)
		if err != nil {
			return nil, none, "", err
		}
		return secret, app.Settings, string(identity.KindEndUser), nil

	case identity.KindDeveloper:
		d, err := tx.Developers(ctx).Find(ctx, rec.IdentityID)
		if err != nil {
			return nil, none, "", err
		}
		if !d.Active {
			return nil, none, "", identity.ErrInactive
		}
		return e.platformSecret, tenant.DefaultSecuritySettings(), string(identity.KindDeveloper), nil

	case identity.KindAdmin:
		a, err := tx.Admins(ctx).Find(ctx, rec.IdentityID)
		if err != nil {
			return nil, none, "", err
		}
		if !a.Active {
			return nil, none, "", identity.ErrInactive
		}
		return e.platformSecret, tenant.DefaultSecuritySettings(), string(identity.KindAdmin), nil
	}
	return nil, none, "", token.ErrInvalid
}

func rotationOutcome(err error) string {
	switch {
	case errors.Is(err, token.ErrRevoked):
		return "reuse"
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrInvalid):
		return "invalid"
	default:
		return "error"
	}
}

// Logout revokes the presented refresh token without a replacement
// pointer. Revoking an already-revoked token is a no-op; an unknown
// token fails with ErrInvalid.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		rec, err := tx.RefreshTokens(ctx).FindByHash(ctx, token.HashOpaque(refreshToken))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return token.ErrInvalid
			}
			return err
		}
		if rec.Revoked() {
			return nil
		}
		now := e.now()
		rec.RevokedAt = &now
		return tx.RefreshTokens(ctx).Update(ctx, rec)
	})
}
