// Package economy holds the shared vocabulary of the SmartPoints engine:
// the error taxonomy and the balance-change event types every engine
// component speaks.
package economy

import (
	"errors"
	"fmt"
)

// ValidationError rejects malformed input (oversized metadata, bad quantity)
// before any storage is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// InsufficientFundsError carries the amounts the UI needs to render a
// precise message.
type InsufficientFundsError struct {
	AccountID string
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient points: need %d, have %d", e.Required, e.Available)
}

// QuantityExceededError rejects a reservation request above the per-offer or
// availability cap.
type QuantityExceededError struct {
	Requested int
	Max       int
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("quantity %d exceeds maximum of %d", e.Requested, e.Max)
}

// InvalidStateTransitionError is the idempotent rejection of a transition
// attempted on a reservation that already left ACTIVE.
type InvalidStateTransitionError struct {
	ReservationID string
	From          string
	To            string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("reservation %s: cannot transition %s -> %s", e.ReservationID, e.From, e.To)
}

// PenaltyActiveError blocks reservation creation during a cooldown.
type PenaltyActiveError struct {
	UserID           string
	OffenseNumber    int
	MinutesRemaining int
}

func (e *PenaltyActiveError) Error() string {
	return fmt.Sprintf("penalty active for another %d minutes (offense %d)", e.MinutesRemaining, e.OffenseNumber)
}

// AlreadyBannedError marks a permanently banned user.
type AlreadyBannedError struct {
	UserID string
}

func (e *AlreadyBannedError) Error() string {
	return fmt.Sprintf("user %s is permanently banned", e.UserID)
}

// NotEligibleError denies a paid cooldown lift outside offense tiers 1-2.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	return "penalty lift not available: " + e.Reason
}

// Forgiveness denials. A decision is terminal and cannot be revisited.
var (
	ErrAlreadyPending = errors.New("a pending forgiveness request already exists for this penalty")
	ErrAlreadyDecided = errors.New("forgiveness request already decided")
	ErrExpired        = errors.New("forgiveness request expired")
	ErrNotFound       = errors.New("not found")
)

// StorageError wraps an infrastructure failure without leaking detail.
// Mutating operations are never retried internally; callers decide.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage failure during " + e.Op
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storagef wraps err as a StorageError unless it already carries engine
// semantics (typed denial or sentinel), which pass through untouched.
func Storagef(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		ve  *ValidationError
		ife *InsufficientFundsError
		qe  *QuantityExceededError
		ist *InvalidStateTransitionError
		pae *PenaltyActiveError
		abe *AlreadyBannedError
		nee *NotEligibleError
		se  *StorageError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &ife), errors.As(err, &qe),
		errors.As(err, &ist), errors.As(err, &pae), errors.As(err, &abe),
		errors.As(err, &nee), errors.As(err, &se),
		errors.Is(err, ErrAlreadyPending), errors.Is(err, ErrAlreadyDecided),
		errors.Is(err, ErrExpired), errors.Is(err, ErrNotFound):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
