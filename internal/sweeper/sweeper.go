// Package sweeper prunes expired token rows on a fixed interval. Rows
// past expiry are eligible regardless of revocation or usage status; a
// live request racing the delete simply also sees the token as invalid.
package sweeper

import (
	"context"
	"time"

	"authforge.dev/internal/obs"
	"authforge.dev/internal/store"
)

const DefaultInterval = 15 * time.Minute

// Sweeper deletes expired refresh and reset token rows in the
// background.
type Sweeper struct {
	store    store.Store
	interval time.Duration
	now      func() time.Time
}

// Option configures Sweeper behavior.
type Option func(*Sweeper)

// WithInterval overrides the sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New constructs a Sweeper.
func New(st store.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    st,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately, then on every tick until the context is
// cancelled. Failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now()

	refresh, err := s.store.RefreshTokens(ctx).DeleteExpired(ctx, now)
	if err != nil {
		obs.Log("error", "refresh token sweep failed", map[string]any{"error": err.Error()})
	} else if refresh > 0 {
		obs.SweptRowsTotal.WithLabelValues("refresh_tokens").Add(float64(refresh))
	}

	resets, err := s.store.ResetTokens(ctx).DeleteExpired(ctx, now)
	if err != nil {
		obs.Log("error", "reset token sweep failed", map[string]any{"error": err.Error()})
	} else if resets > 0 {
		obs.SweptRowsTotal.WithLabelValues("reset_tokens").Add(float64(resets))
	}

	if refresh > 0 || resets > 0 {
		obs.Log("info", "token sweep completed", map[string]any{
			"refresh_rows": refresh,
			"reset_rows":   resets,
		})
	}
}
