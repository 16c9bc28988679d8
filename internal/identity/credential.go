package identity

import "time"

// Credential is the password-backed state machine shared by every
// identity kind: verification, failed-attempt counting, lockout and
// activation. EndUser, Developer and Admin embed it; tenant scoping is a
// store concern, not a credential concern.
type Credential struct {
	PasswordHash          string
	EmailVerified         bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	FailedLoginAttempts   int
	LockedOutUntil        *time.Time
	Active                bool
	LastLoginAt           *time.Time

	events []Event
}

func (c *Credential) record(e Event) {
	c.events = append(c.events, e)
}

// Events drains the queued domain events.
func (c *Credential) Events() []Event {
	out := c.events
	c.events = nil
	return out
}

// SetVerificationToken replaces the outstanding verification token. At
// most one verification token is relevant at a time, so it lives on the
// identity itself.
func (c *Credential) SetVerificationToken(token string, expiresAt time.Time) {
	c.VerificationToken = token
	c.VerificationExpiresAt = &expiresAt
}

// VerifyEmail consumes the embedded verification token.
func (c *Credential) VerifyEmail(token string, now time.Time) error {
	if c.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	if c.VerificationToken == "" || token == "" || c.VerificationToken != token {
		return ErrVerificationInvalid
	}
	if c.VerificationExpiresAt != nil && now.After(*c.VerificationExpiresAt) {
		return ErrVerificationExpired
	}
	c.EmailVerified = true
	c.VerificationToken = ""
	c.VerificationExpiresAt = nil
	c.record(EmailVerified{})
	return nil
}

// ForceVerifyEmail marks the email verified without a token (admin
// action).
func (c *Credential) ForceVerifyEmail() error {
	if c.EmailVerified {
		return ErrEmailAlreadyVerified
	}
	c.EmailVerified = true
	c.VerificationToken = ""
	c.VerificationExpiresAt = nil
	c.record(EmailVerified{Forced: true})
	return nil
}

// RecordFailedLogin increments the counter and, when it reaches
// maxAttempts, starts the lockout window. Lockout is a consequence of
// the counter crossing the threshold, not a separate caller decision.
// An earlier-ending deadline never overwrites a later one.
func (c *Credential) RecordFailedLogin(now time.Time, maxAttempts int, lockout time.Duration) {
	c.FailedLoginAttempts++
	c.record(LoginFailed{Attempts: c.FailedLoginAttempts})
	if maxAttempts > 0 && c.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockout)
		if c.LockedOutUntil == nil || until.After(*c.LockedOutUntil) {
			c.LockedOutUntil = &until
		}
		c.record(LockedOut{Attempts: c.FailedLoginAttempts, Until: *c.LockedOutUntil})
	}
}

// RecordSuccessfulLogin resets the counter, clears any lockout and
// stamps the login time.
func (c *Credential) RecordSuccessfulLogin(now time.Time) {
	c.FailedLoginAttempts = 0
	c.LockedOutUntil = nil
	t := now
	c.LastLoginAt = &t
	c.record(LoginSucceeded{})
}

// IsLockedOut reports whether a lockout window is currently open. An
// expired window is cleared lazily by the next successful login.
func (c *Credential) IsLockedOut(now time.Time) bool {
	return c.LockedOutUntil != nil && now.Before(*c.LockedOutUntil)
}

// Lock is the administrative override, independent of the counter.
func (c *Credential) Lock(now time.Time, d time.Duration) {
	until := now.Add(d)
	c.LockedOutUntil = &until
	c.record(Locked{Until: until})
}

// Unlock clears the lockout and zeroes the failed counter.
func (c *Credential) Unlock() {
	c.LockedOutUntil = nil
	c.FailedLoginAttempts = 0
	c.record(Unlocked{})
}

// RequestPasswordReset raises the audit event for a reset-token issue.
// Token state lives in the reset ledger, not on the credential.
func (c *Credential) RequestPasswordReset() {
	c.record(PasswordResetRequested{})
}

// UpdatePassword replaces the stored hash. Callers revoke outstanding
// refresh tokens when this follows a reset.
func (c *Credential) UpdatePassword(newHash string) {
	c.PasswordHash = newHash
	c.record(PasswordChanged{})
}

// Deactivate is a strict toggle: deactivating twice is an error.
func (c *Credential) Deactivate() error {
	if !c.Active {
		return ErrAlreadyDeactivated
	}
	c.Active = false
	c.record(Deactivated{})
	return nil
}

// Activate is a strict toggle: activating an active identity is an error.
func (c *Credential) Activate() error {
	if c.Active {
		return ErrAlreadyActive
	}
	c.Active = true
	c.record(Activated{})
	return nil
}
