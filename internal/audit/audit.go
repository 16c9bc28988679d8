// Package audit records every security-relevant transition as an
// immutable row. Writes participate in the same transaction as the
// triggering state change: an unaudited transition is a consistency
// violation, not an acceptable best-effort log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"authforge.dev/internal/identity"
	"authforge.dev/internal/ids"
	"authforge.dev/internal/tenant"
)

// Entry is one append-only audit row. TenantID is nil for platform-level
// events.
type Entry struct {
	ID          string
	TenantID    *string
	EventType   string
	PerformedBy string
	TargetID    string
	Details     json.RawMessage
	SourceIP    string
	CreatedAt   time.Time
}

// Appender persists entries. The store's audit substore satisfies it.
type Appender interface {
	Append(ctx context.Context, entry *Entry) error
}

// Event is any domain event carrying its type tag. identity and tenant
// events satisfy it structurally.
type Event interface {
	EventType() string
}

// Actor describes who performed the transition and from where.
type Actor struct {
	// PerformedBy is an email, or "admin"/"system" for non-user actors.
	PerformedBy string
	SourceIP    string
}

// Recorder turns domain events into audit entries.
type Recorder struct {
	now func() time.Time
}

// Option configures Recorder behavior.
type Option func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry per event. Any append error propagates to the
// caller, aborting the surrounding transaction.
func (r *Recorder) Record(ctx context.Context, app Appender, tenantID *string, actor Actor, targetID string, events []Event) error {
	for _, e := range events {
		details, err := detailsFor(e)
		if err != nil {
			return err
		}
		entry := &Entry{
			ID:          ids.New(),
			TenantID:    tenantID,
			EventType:   e.EventType(),
			PerformedBy: actor.PerformedBy,
			TargetID:    targetID,
			Details:     details,
			SourceIP:    actor.SourceIP,
			CreatedAt:   r.now().UTC(),
		}
		if err := app.Append(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func detailsFor(e Event) (json.RawMessage, error) {
	var payload map[string]any
	switch ev := e.(type) {
	case identity.Registered:
		payload = map[string]any{"email": ev.Email}
	case identity.LoginFailed:
		payload = map[string]any{"failed_attempts": ev.Attempts}
	case identity.LockedOut:
		payload = map[string]any{
			"failed_attempts":  ev.Attempts,
			"locked_out_until": ev.Until.UTC().Format(time.RFC3339),
		}
	case identity.Locked:
		payload = map[string]any{"locked_out_until": ev.Until.UTC().Format(time.RFC3339)}
	case identity.EmailVerified:
		payload = map[string]any{"forced": ev.Forced}
	case tenant.Created:
		payload = map[string]any{"name": ev.Name, "slug": ev.Slug}
	case tenant.SettingsUpdated:
		payload = map[string]any{
			"max_failed_attempts":      ev.Settings.MaxFailedAttempts,
			"lockout_minutes":          ev.Settings.LockoutMinutes,
			"access_token_ttl_minutes": ev.Settings.AccessTokenTTLMinutes,
			"refresh_token_ttl_days":   ev.Settings.RefreshTokenTTLDays,
		}
	case tenant.KeysRegenerated:
		payload = map[string]any{"public_key": ev.PublicKey}
	default:
		payload = map[string]any{}
	}
	return json.Marshal(payload)
}
