package identity

import "time"

// Event is a security-relevant transition raised by an aggregate. Events
// queue on the aggregate and are drained by the command handler, which
// hands them to the audit recorder inside the same transaction.
type Event interface {
	EventType() string
}

type Registered struct {
	Email string
}

func (Registered) EventType() string { return "identity.registered" }

type LoginSucceeded struct{}

func (LoginSucceeded) EventType() string { return "identity.login_succeeded" }

type LoginFailed struct {
	Attempts int
}

func (LoginFailed) EventType() string { return "identity.login_failed" }

// LockedOut is raised when the failed-attempt counter crosses the
// configured threshold.
type LockedOut struct {
	Attempts int
	Until    time.Time
}

func (LockedOut) EventType() string { return "identity.locked_out" }

// Locked is the administrative override, independent of the counter.
type Locked struct {
	Until time.Time
}

func (Locked) EventType() string { return "identity.locked" }

type Unlocked struct{}

func (Unlocked) EventType() string { return "identity.unlocked" }

type EmailVerified struct {
	// Forced marks an admin-forced verification rather than token
	// consumption by the user.
	Forced bool
}

func (EmailVerified) EventType() string { return "identity.email_verified" }

type PasswordResetRequested struct{}

func (PasswordResetRequested) EventType() string { return "identity.password_reset_requested" }

type PasswordChanged struct{}

func (PasswordChanged) EventType() string { return "identity.password_changed" }

type Activated struct{}

func (Activated) EventType() string { return "identity.activated" }

type Deactivated struct{}

func (Deactivated) EventType() string { return "identity.deactivated" }

type Deleted struct{}

func (Deleted) EventType() string { return "identity.deleted" }
