// Package ferrors provides the typed error taxonomy used across the daemon:
// transport, auth, precondition, validation, and corruption failures each
// carry a distinct ErrorType so callers can branch on Is*Error without
// string matching.
package ferrors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure the way the sync engine needs to react to it.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork covers connection failures, HTTP 5xx, and timeouts -
	// retried with backoff (spec §7 "Transport").
	ErrorTypeNetwork
	// ErrorTypeAuth covers token refresh failure / HTTP 401.
	ErrorTypeAuth
	// ErrorTypePrecondition covers HTTP 404/412 - stale etag or missing parent.
	ErrorTypePrecondition
	// ErrorTypeTreeInvalid means a processing item's parent is missing or deleted.
	ErrorTypeTreeInvalid
	// ErrorTypeNameCollision means a sibling already occupies the target name.
	ErrorTypeNameCollision
	// ErrorTypeContentConflict means both sides mutated the item since the last reconciled etag.
	ErrorTypeContentConflict
	// ErrorTypeLocalIO covers disk-full, permission-denied, file-busy.
	ErrorTypeLocalIO
	// ErrorTypeCorruption covers database constraint violations and unparsable records.
	ErrorTypeCorruption
	// ErrorTypeOperation is a catch-all for remote-capability failures not covered above.
	ErrorTypeOperation
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNetwork:
		return "NetworkError"
	case ErrorTypeAuth:
		return "AuthError"
	case ErrorTypePrecondition:
		return "PreconditionError"
	case ErrorTypeTreeInvalid:
		return "TreeInvalidError"
	case ErrorTypeNameCollision:
		return "NameCollisionError"
	case ErrorTypeContentConflict:
		return "ContentConflictError"
	case ErrorTypeLocalIO:
		return "LocalIOError"
	case ErrorTypeCorruption:
		return "CorruptionError"
	case ErrorTypeOperation:
		return "OperationError"
	default:
		return "UnknownError"
	}
}

// TypedError is an error carrying a classification and an optional cause.
type TypedError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *TypedError) Unwrap() error { return e.Err }

func newTyped(t ErrorType, message string, err error) error {
	return &TypedError{Type: t, Message: message, Err: err}
}

func NewNetworkError(message string, err error) error         { return newTyped(ErrorTypeNetwork, message, err) }
func NewAuthError(message string, err error) error             { return newTyped(ErrorTypeAuth, message, err) }
func NewPreconditionError(message string, err error) error     { return newTyped(ErrorTypePrecondition, message, err) }
func NewTreeInvalidError(message string, err error) error      { return newTyped(ErrorTypeTreeInvalid, message, err) }
func NewNameCollisionError(message string, err error) error    { return newTyped(ErrorTypeNameCollision, message, err) }
func NewContentConflictError(message string, err error) error  { return newTyped(ErrorTypeContentConflict, message, err) }
func NewLocalIOError(message string, err error) error          { return newTyped(ErrorTypeLocalIO, message, err) }
func NewCorruptionError(message string, err error) error       { return newTyped(ErrorTypeCorruption, message, err) }
func NewOperationError(message string, err error) error        { return newTyped(ErrorTypeOperation, message, err) }

func typeOf(err error) (ErrorType, bool) {
	var typed *TypedError
	if As(err, &typed) {
		return typed.Type, true
	}
	return ErrorTypeUnknown, false
}

func IsNetworkError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeNetwork
}

func IsAuthError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeAuth
}

func IsPreconditionError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypePrecondition
}

func IsTreeInvalidError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTreeInvalid
}

func IsNameCollisionError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeNameCollision
}

func IsContentConflictError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeContentConflict
}

func IsLocalIOError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeLocalIO
}

func IsCorruptionError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeCorruption
}

func IsOperationError(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeOperation
}

// Wrap, Wrapf, Is, As, and New are convenience re-exports of the standard
// errors package so call sites only ever import ferrors.

func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error { return errors.New(message) }
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target interface{}) bool { return errors.As(err, target) }
func Unwrap(err error) error { return errors.Unwrap(err) }
