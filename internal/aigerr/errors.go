// Package aigerr defines the structured error taxonomy shared by every
// AIGOS governance component. Each public operation either succeeds or
// returns an *Error carrying a machine-readable Kind, a human message,
// and optional details. The A2A layer maps Kinds to HTTP status codes.
package aigerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a failure class.
type Kind string

// Parse failures.
const (
	BadFormat       Kind = "BAD_FORMAT"
	BadTimestamp    Kind = "BAD_TIMESTAMP"
	SchemaViolation Kind = "SCHEMA_VIOLATION"
)

// Identity failures.
const (
	HashMismatch      Kind = "HASH_MISMATCH"
	SignerUnavailable Kind = "SIGNER_UNAVAILABLE"
)

// Temporal failures.
const (
	ClockSkew          Kind = "CLOCK_SKEW"
	TokenExpired       Kind = "TOKEN_EXPIRED"
	CertificateExpired Kind = "CERTIFICATE_EXPIRED"
)

// Trust failures.
const (
	InvalidSignature         Kind = "INVALID_SIGNATURE"
	UntrustedIssuer          Kind = "UNTRUSTED_ISSUER"
	CertificateRevoked       Kind = "CERTIFICATE_REVOKED"
	CertificateStatusUnknown Kind = "CERTIFICATE_STATUS_UNKNOWN"
)

// Authorization failures.
const (
	InsufficientLevel Kind = "INSUFFICIENT_LEVEL"
	MissingCompliance Kind = "MISSING_COMPLIANCE"
	PolicyViolation   Kind = "POLICY_VIOLATION"
	HealthCheckFailed Kind = "HEALTH_CHECK_FAILED"
)

// Spawn failures.
const (
	PrivilegeEscalation Kind = "PRIVILEGE_ESCALATION"
	BudgetEscalation    Kind = "BUDGET_ESCALATION"
	DepthExceeded       Kind = "DEPTH_EXCEEDED"
)

// Policy-graph failures.
const (
	CircularInheritance Kind = "CIRCULAR_INHERITANCE"
	MaxDepthExceeded    Kind = "MAX_DEPTH_EXCEEDED"
	PolicyNotFound      Kind = "POLICY_NOT_FOUND"
)

// Operational failures.
const (
	Cancelled      Kind = "CANCELLED"
	Timeout        Kind = "TIMEOUT"
	CAUnavailable  Kind = "CA_UNAVAILABLE"
	NotCertifiable Kind = "NOT_CERTIFIABLE"
	MissingToken   Kind = "MISSING_TOKEN"
	InvalidToken   Kind = "INVALID_TOKEN"
)

// Error is the structured error value returned by AIGOS operations.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// wrapped is the underlying cause, if any.
	wrapped error
}

// New creates an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error whose cause is err; Unwrap exposes it.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithDetails attaches a details map and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.wrapped }

// Is reports whether target is an *Error with the same Kind. This lets
// callers use errors.Is(err, aigerr.New(aigerr.TokenExpired, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error Kind to the HTTP status the A2A adapter must
// return. Unlisted kinds are internal errors and map to 503.
func HTTPStatus(kind Kind) int {
	switch kind {
	case MissingToken, InvalidToken, TokenExpired, CertificateExpired,
		CertificateRevoked, InvalidSignature, BadFormat, SchemaViolation:
		return http.StatusUnauthorized
	case UntrustedIssuer, InsufficientLevel, MissingCompliance,
		PolicyViolation, HealthCheckFailed:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
