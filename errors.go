package x402

import (
	"net/http"
	"time"
)

// ErrorType groups failure codes by who should act on them.
type ErrorType string

const (
	InvalidPayment     ErrorType = "invalid_payment"     // Credential missing, malformed, or rejected; pay again.
	FacilitatorFailure ErrorType = "facilitator_failure" // Remote facilitator unreachable or timed out; retry later.
	InvalidConfig      ErrorType = "invalid_config"      // Merchant-side misconfiguration.
)

// ErrorCode is a machine-readable identifier for the specific failure.
// Codes of type [InvalidPayment] are surfaced in the 402 body's error field.
type ErrorCode string

const (
	MalformedEncoding      ErrorCode = "MalformedEncoding"      // Header is not valid base64url.
	MalformedPayload       ErrorCode = "MalformedPayload"       // Decoded bytes are not the expected JSON payload.
	MissingField           ErrorCode = "MissingField"           // A required credential field is absent or mistyped.
	CredentialExpired      ErrorCode = "CredentialExpired"      // Outside the validAfter/validBefore window.
	RequirementMismatch    ErrorCode = "RequirementMismatch"    // Credential does not match the current requirement.
	SignatureInvalid       ErrorCode = "SignatureInvalid"       // Facilitator rejected the credential signature.
	VerificationRejected   ErrorCode = "VerificationRejected"   // Facilitator rejected verification for another reason.
	SettlementRejected     ErrorCode = "SettlementRejected"     // Facilitator refused to settle; terminal, never retried.
	FacilitatorUnreachable ErrorCode = "FacilitatorUnreachable" // All attempts failed with transport errors.
	FacilitatorTimeout     ErrorCode = "FacilitatorTimeout"     // All attempts failed with exceeded deadlines.
	DuplicateEndpoint      ErrorCode = "DuplicateEndpoint"      // Two manifest registrations share (path, method).
	InvalidConfiguration   ErrorCode = "InvalidConfiguration"   // Merchant configuration failed validation.
)

// Error is the structured failure payload produced by every component in
// this package. The unexported status controls which HTTP class the
// reference middleware answers with, so adapters can distinguish
// "pay differently" (402) from "try again later" (5xx).
type Error struct {
	Type    ErrorType `json:"type"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`

	status     int           `json:"-"`
	retryAfter time.Duration `json:"-"`
}

// Error makes *Error satisfy the stdlib error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// StatusCode reports the HTTP status class the failure maps to.
func (e *Error) StatusCode() int {
	if e == nil || e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// RetryAfter returns the duration clients should wait before retrying.
func (e *Error) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.retryAfter
}

type errorOption func(*Error)

// WithStatusCode overrides the HTTP status code returned to the client.
func WithStatusCode(status int) errorOption {
	return func(er *Error) {
		er.status = status
	}
}

// WithRetryAfter specifies how long clients should wait before retrying.
func WithRetryAfter(d time.Duration) errorOption {
	return func(er *Error) {
		er.retryAfter = d
	}
}

// NewPaymentRequiredError builds a 402 payment rejection with the given
// taxonomy code.
func NewPaymentRequiredError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(InvalidPayment, code, message, append([]errorOption{WithStatusCode(http.StatusPaymentRequired)}, opts...)...)
}

// NewFacilitatorUnavailableError builds a Service Unavailable error for
// facilitator infrastructure failures. These must never masquerade as
// payment rejections.
func NewFacilitatorUnavailableError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(FacilitatorFailure, code, message, append([]errorOption{WithStatusCode(http.StatusServiceUnavailable)}, opts...)...)
}

// NewConfigError builds a merchant-side configuration error.
func NewConfigError(code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(InvalidConfig, code, message, append([]errorOption{WithStatusCode(http.StatusInternalServerError)}, opts...)...)
}

// NewHTTPError allows callers to control the status code explicitly.
func NewHTTPError(status int, typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	return newError(typ, code, message, append(opts, WithStatusCode(status))...)
}

func newError(typ ErrorType, code ErrorCode, message string, opts ...errorOption) *Error {
	errPayload := &Error{
		Type:    typ,
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(errPayload)
	}
	return errPayload
}
