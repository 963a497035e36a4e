package library

import (
	"errors"
	"fmt"
)

// Reason names an expected, recoverable outcome of a library operation.
type Reason string

const (
	ReasonAuthFailure            Reason = "auth_failure"
	ReasonInsufficientPrivilege  Reason = "insufficient_privilege"
	ReasonNotFound               Reason = "not_found"
	ReasonNoLibraryCard          Reason = "no_library_card"
	ReasonAccountExpired         Reason = "account_expired"
	ReasonBorrowLimitReached     Reason = "borrow_limit_reached"
	ReasonAlreadyBorrowed        Reason = "already_borrowed"
	ReasonHeldByOther            Reason = "held_by_other"
	ReasonAlreadyReserved        Reason = "already_reserved"
	ReasonAlreadyReservedByYou   Reason = "already_reserved_by_this_account"
	ReasonNotReservedBySameActor Reason = "not_reserved_by_same_actor"
	ReasonNotBorrowedBySameActor Reason = "not_borrowed_by_same_actor"
	ReasonDuplicateKey           Reason = "duplicate_key"
	ReasonItemInUse              Reason = "item_in_use"
	ReasonInvalidInput           Reason = "invalid_input"
	ReasonAlreadyHasCard         Reason = "already_has_card"
)

// Failure is the error value returned for every expected outcome. Callers
// branch on Reason, either directly or through errors.Is with the Err*
// sentinels below.
type Failure struct {
	Reason Reason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

// Is matches any Failure carrying the same Reason, so a detailed failure
// still satisfies errors.Is against its sentinel.
func (f *Failure) Is(target error) bool {
	other, ok := target.(*Failure)
	return ok && other.Reason == f.Reason
}

func fail(reason Reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrAuthFailure            = &Failure{Reason: ReasonAuthFailure}
	ErrInsufficientPrivilege  = &Failure{Reason: ReasonInsufficientPrivilege}
	ErrNotFound               = &Failure{Reason: ReasonNotFound}
	ErrNoLibraryCard          = &Failure{Reason: ReasonNoLibraryCard}
	ErrAccountExpired         = &Failure{Reason: ReasonAccountExpired}
	ErrBorrowLimitReached     = &Failure{Reason: ReasonBorrowLimitReached}
	ErrAlreadyBorrowed        = &Failure{Reason: ReasonAlreadyBorrowed}
	ErrHeldByOther            = &Failure{Reason: ReasonHeldByOther}
	ErrAlreadyReserved        = &Failure{Reason: ReasonAlreadyReserved}
	ErrAlreadyReservedByYou   = &Failure{Reason: ReasonAlreadyReservedByYou}
	ErrNotReservedBySameActor = &Failure{Reason: ReasonNotReservedBySameActor}
	ErrNotBorrowedBySameActor = &Failure{Reason: ReasonNotBorrowedBySameActor}
	ErrDuplicateKey           = &Failure{Reason: ReasonDuplicateKey}
	ErrItemInUse              = &Failure{Reason: ReasonItemInUse}
	ErrInvalidInput           = &Failure{Reason: ReasonInvalidInput}
	ErrAlreadyHasCard         = &Failure{Reason: ReasonAlreadyHasCard}
)

// ErrInvariantViolation marks a hard failure: an item and an account
// disagree about who holds what. It is never a *Failure.
var ErrInvariantViolation = errors.New("library: item and account state diverged")

// ReasonOf reports the Reason carried by err, if err is (or wraps) a Failure.
func ReasonOf(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}
