// Package errs provides the unified error type used across all of DataMaster.
//
// Every subsystem (config store, driver registry, connection broker, query
// gate, export, …) wraps its native errors into *errs.Error before returning
// them to callers. Callers use the Is* predicates to handle errors without
// importing driver-specific packages.
//
// Usage:
//
//	// In the broker, wrap native errors:
//	return errs.Wrap(errs.ErrKindConnectFailed, "mysql connection failed", err)
//
//	// In a handler, check the error kind:
//	if errs.IsConfigNotFound(err) {
//	    http.Error(w, "unknown database", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (SQLite, MySQL, PostgreSQL, MongoDB) map their native errors
// to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown           ErrKind = iota
	ErrKindConfigNotFound            // no config with that name, or disabled
	ErrKindConfigInvalid             // missing required field for the backend type
	ErrKindDriverUnavailable         // no client implementation usable for a family
	ErrKindConnectFailed             // network / auth / liveness failure
	ErrKindSecurityViolation         // blocked keyword or disallowed write
	ErrKindQuerySyntax               // backend parser rejected the statement
	ErrKindSerialization             // a result cell could not be made JSON-safe
	ErrKindTimeout                   // context deadline / cancellation
	ErrKindNotFound                  // no rows, no object, no collection
	ErrKindInvalidInput              // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConfigNotFound:
		return "config_not_found"
	case ErrKindConfigInvalid:
		return "config_invalid"
	case ErrKindDriverUnavailable:
		return "driver_unavailable"
	case ErrKindConnectFailed:
		return "connect_failed"
	case ErrKindSecurityViolation:
		return "security_violation"
	case ErrKindQuerySyntax:
		return "query_syntax"
	case ErrKindSerialization:
		return "serialization_failure"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all DataMaster subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message and no cause.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsConfigNotFound reports whether err means a named config does not exist
// (or exists but is disabled).
func IsConfigNotFound(err error) bool {
	return kindOf(err) == ErrKindConfigNotFound
}

// IsConfigInvalid reports whether err is a per-backend validation failure.
func IsConfigInvalid(err error) bool {
	return kindOf(err) == ErrKindConfigInvalid
}

// IsDriverUnavailable reports whether err means no client implementation
// could be used for a backend family.
func IsDriverUnavailable(err error) bool {
	return kindOf(err) == ErrKindDriverUnavailable
}

// IsConnectFailed reports whether err is a connectivity or auth failure.
func IsConnectFailed(err error) bool {
	return kindOf(err) == ErrKindConnectFailed
}

// IsSecurityViolation reports whether err was raised by the write-operation
// policy before any I/O took place.
func IsSecurityViolation(err error) bool {
	return kindOf(err) == ErrKindSecurityViolation
}

// IsQuerySyntax reports whether the backend rejected the statement text.
func IsQuerySyntax(err error) bool {
	return kindOf(err) == ErrKindQuerySyntax
}

// IsSerialization reports whether a result value could not be made JSON-safe.
func IsSerialization(err error) bool {
	return kindOf(err) == ErrKindSerialization
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown table/collection, …).
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
