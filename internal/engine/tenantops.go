package engine

import (
	"context"
	"errors"

	"authforge.dev/internal/audit"
	"authforge.dev/internal/store"
	"authforge.dev/internal/tenant"
)

// CreateApplication registers a tenant: key pair and signing secret are
// generated here and stored as vault ciphertext. The plaintext secret
// key is returned exactly once; it cannot be recovered later, only
// regenerated.
func (e *Engine) CreateApplication(ctx context.Context, name, slug string, actor audit.Actor) (*tenant.Application, string, error) {
	if _, err := e.store.Applications(ctx).FindBySlug(ctx, slug); err == nil {
		return nil, "", tenant.ErrDuplicateSlug
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	publicKey, secretKey, err := tenant.GenerateKeyPair()
	if err != nil {
		return nil, "", err
	}
	signing, err := tenant.GenerateSigningSecret()
	if err != nil {
		return nil, "", err
	}
	secretEnc, err := e.vault.Encrypt(secretKey)
	if err != nil {
		return nil, "", err
	}
	signingEnc, err := e.vault.Encrypt(signing)
	if err != nil {
		return nil, "", err
	}

	app, err := tenant.NewApplication(name, slug, publicKey, secretEnc, signingEnc, e.now())
	if err != nil {
		return nil, "", err
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Applications(ctx).Create(ctx, app); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return tenant.ErrDuplicateSlug
			}
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, app.ID, auditEvents(app.Events()))
	})
	if err != nil {
		return nil, "", err
	}
	return app, secretKey, nil
}

// UpdateApplicationSettings validates and replaces the security settings.
func (e *Engine) UpdateApplicationSettings(ctx context.Context, tenantID string, settings tenant.SecuritySettings, actor audit.Actor) error {
	return e.mutateApplication(ctx, tenantID, actor, nil, func(app *tenant.Application) error {
		return app.UpdateSettings(settings)
	})
}

// EmailSettingsInput carries a tenant's outbound mail provider
// configuration with the SMTP password still in plaintext.
type EmailSettingsInput struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
}

// UpdateApplicationEmail stores the tenant's mail provider settings.
// The SMTP password is encrypted before it reaches the store.
func (e *Engine) UpdateApplicationEmail(ctx context.Context, tenantID string, in EmailSettingsInput, actor audit.Actor) error {
	passwordEnc := ""
	if in.SMTPPassword != "" {
		enc, err := e.vault.Encrypt(in.SMTPPassword)
		if err != nil {
			return err
		}
		passwordEnc = enc
	}
	return e.mutateApplication(ctx, tenantID, actor, nil, func(app *tenant.Application) error {
		app.UpdateEmailSettings(tenant.EmailSettings{
			SMTPHost:        in.SMTPHost,
			SMTPPort:        in.SMTPPort,
			SMTPUser:        in.SMTPUser,
			SMTPPasswordEnc: passwordEnc,
			FromAddress:     in.FromAddress,
		})
		return nil
	})
}

// RegenerateApplicationKeys replaces the API key pair without touching
// the JWT signing secret; key rotation never invalidates sessions.
func (e *Engine) RegenerateApplicationKeys(ctx context.Context, tenantID string, actor audit.Actor) (string, string, error) {
	publicKey, secretKey, err := tenant.GenerateKeyPair()
	if err != nil {
		return "", "", err
	}
	secretEnc, err := e.vault.Encrypt(secretKey)
	if err != nil {
		return "", "", err
	}
	err = e.mutateApplication(ctx, tenantID, actor, nil, func(app *tenant.Application) error {
		app.RegenerateKeys(publicKey, secretEnc)
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return publicKey, secretKey, nil
}

// RegenerateApplicationJWTSecret replaces the signing secret and revokes
// every active refresh token of the tenant's end users in the same
// transaction. This is the only mass session invalidation: a new secret
// alone would only stop new validations, not issued refresh chains.
func (e *Engine) RegenerateApplicationJWTSecret(ctx context.Context, tenantID string, actor audit.Actor) error {
	signing, err := tenant.GenerateSigningSecret()
	if err != nil {
		return err
	}
	signingEnc, err := e.vault.Encrypt(signing)
	if err != nil {
		return err
	}
	now := e.now()
	return e.mutateApplication(ctx, tenantID, actor, func(tx store.Store, app *tenant.Application) error {
		_, err := tx.RefreshTokens(ctx).RevokeAllForTenant(ctx, app.ID, now)
		return err
	}, func(app *tenant.Application) error {
		app.RegenerateJWTSecret(signingEnc)
		return nil
	})
}

// DeactivateApplication disables the tenant. Logins and refreshes of its
// end users fail from the next request on.
func (e *Engine) DeactivateApplication(ctx context.Context, tenantID string, actor audit.Actor) error {
	return e.mutateApplication(ctx, tenantID, actor, nil, func(app *tenant.Application) error {
		return app.Deactivate()
	})
}

// ActivateApplication re-enables a deactivated tenant.
func (e *Engine) ActivateApplication(ctx context.Context, tenantID string, actor audit.Actor) error {
	return e.mutateApplication(ctx, tenantID, actor, nil, func(app *tenant.Application) error {
		return app.Activate()
	})
}

// mutateApplication applies mutate to the aggregate, runs the optional
// side effect in the same transaction, persists and audits.
func (e *Engine) mutateApplication(ctx context.Context, tenantID string, actor audit.Actor, side func(store.Store, *tenant.Application) error, mutate func(*tenant.Application) error) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		app, err := tx.Applications(ctx).Find(ctx, tenantID)
		if err != nil {
			return err
		}
		if err := mutate(app); err != nil {
			return err
		}
		if side != nil {
			if err := side(tx, app); err != nil {
				return err
			}
		}
		if err := tx.Applications(ctx).Update(ctx, app); err != nil {
			return err
		}
		return e.recorder.Record(ctx, tx.Audit(ctx), &app.ID, actor, app.ID, auditEvents(app.Events()))
	})
}
