package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPoolExhausted means no registered credential is usable at all.
	ErrPoolExhausted = errors.New("credential pool exhausted")
	// ErrNoCredentialAvailable means usable credentials exist but none can
	// be handed out right now.
	ErrNoCredentialAvailable = errors.New("no credential available")
	ErrCredentialNotFound    = errors.New("credential not found")
	ErrDuplicateCredential   = errors.New("credential already registered")
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrCredentialUnusable    = errors.New("credential unusable")
)

// UnavailableError is returned when every usable credential is cooling
// down or excluded. RetryAt is the earliest cooldown expiry, zero when the
// only usable credentials were excluded by the caller.
type UnavailableError struct {
	RetryAt time.Time
}

func (e *UnavailableError) Error() string {
	if e.RetryAt.IsZero() {
		return "no credential available: all usable credentials excluded"
	}
	return fmt.Sprintf("no credential available until %s", e.RetryAt.Format(time.RFC3339))
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrNoCredentialAvailable
}
