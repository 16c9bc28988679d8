package identity

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidEmail         = errors.New("identity: invalid email address")
	ErrEmailAlreadyVerified = errors.New("identity: email already verified")
	ErrVerificationInvalid  = errors.New("identity: verification token invalid")
	ErrVerificationExpired  = errors.New("identity: verification token expired")
	ErrAlreadyActive        = errors.New("identity: already active")
	ErrAlreadyDeactivated   = errors.New("identity: already deactivated")
	ErrInactive             = errors.New("identity: deactivated")
)

// LockedOutError carries the moment the lockout window ends.
type LockedOutError struct {
	Until time.Time
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("identity: locked out until %s", e.Until.UTC().Format(time.RFC3339))
}
