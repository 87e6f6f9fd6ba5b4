/*
errors.go - Error taxonomy for the subscription engine

ERROR CATEGORIES:
  1. Validation    - bad amount, missing field, unknown rank
  2. NotFound      - member, identity, year record or payment index missing
  3. Authorization - caller's role/unit does not permit the action
  4. Store         - the record store failed; never retried, surfaced as-is

USAGE:
  Match categories with errors.Is against the sentinels, or errors.As to get
  the structured detail:

    if errors.Is(err, subs.ErrNotFound) { ... }

    var verr *subs.ValidationError
    if errors.As(err, &verr) { log(verr.Field) }
*/
package subs

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	ErrNotFound = errors.New("not found")

	ErrUnauthorized = errors.New("not authorized")

	// ErrStore is the category of every record-store failure.
	ErrStore = errors.New("record store failure")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundKind names what was missing.
type NotFoundKind string

const (
	KindMember     NotFoundKind = "member"
	KindIdentity   NotFoundKind = "user"
	KindYearRecord NotFoundKind = "year record"
	KindPayment    NotFoundKind = "payment"
)

type NotFoundError struct {
	Kind NotFoundKind
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type AuthorizationError struct {
	Role   string
	Action string
}

func (e *AuthorizationError) Error() string {
	if e.Role == "" {
		return "not authorized to " + e.Action
	}
	return fmt.Sprintf("role %q is not authorized to %s", e.Role, e.Action)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// StoreError wraps a failure from the underlying record store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the category and the driver error.
func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
