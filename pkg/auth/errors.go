package auth

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidCredentials is the single error returned for every credential
// failure mode: wrong secret, unknown identifier, inactive or deleted
// account, malformed input. Collapsing these prevents account enumeration.
var ErrInvalidCredentials = errors.New("invalid credentials")

// LockedError indicates the account is temporarily locked after repeated
// failures. It reveals that a retry window exists but not the failure count.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return "account temporarily locked, try again later"
}

// IsLocked reports whether err is a lockout failure and returns it
func IsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// StoreError indicates the backing store could not be reached or timed out.
// It is retriable and deliberately distinct from both credential failures
// and token absence: the system could not determine validity at all.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("auth store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is a store availability failure
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Reason is a machine-readable failure code carried on audit events. The
// user-facing message stays uniform regardless of reason.
type Reason string

const (
	ReasonUnknownIdentifier Reason = "unknown_identifier"
	ReasonBadSecret         Reason = "bad_secret"
	ReasonNotActive         Reason = "account_not_active"
	ReasonDeleted           Reason = "account_deleted"
	ReasonLocked            Reason = "account_locked"
)
