package model

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for callers deciding whether to retry,
// escalate, or abort.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindExhaustion    Kind = "exhaustion"
)

// Error is a domain error with a stable numeric code. Codes are part of the
// public API and must never be renumbered.
type Error struct {
	Code   int    `json:"code"`
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Name
	}
	return e.Name + ": " + e.Detail
}

// Is reports whether target is a domain error with the same code, so that
// errors.Is(err, model.ErrReplayDetected) matches regardless of Detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf returns a copy of base with a formatted detail.
func Errorf(base *Error, format string, args ...any) *Error {
	e := *base
	e.Detail = fmt.Sprintf(format, args...)
	return &e
}

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func newErr(code int, name string, kind Kind) *Error {
	return &Error{Code: code, Name: name, Kind: kind}
}

// Registry and session errors.
var (
	ErrUnauthorized           = newErr(1, "Unauthorized", KindAuthorization)
	ErrAlreadyRegistered      = newErr(2, "AlreadyRegistered", KindConflict)
	ErrAttestorNotRegistered  = newErr(3, "AttestorNotRegistered", KindNotFound)
	ErrUnauthorizedAttestor   = newErr(4, "UnauthorizedAttestor", KindAuthorization)
	ErrReplayDetected         = newErr(5, "ReplayDetected", KindConflict)
	ErrInvalidTimestamp       = newErr(6, "InvalidTimestamp", KindValidation)
	ErrAttestationNotFound    = newErr(7, "AttestationNotFound", KindNotFound)
	ErrInvalidServiceType     = newErr(8, "InvalidServiceType", KindValidation)
	ErrServicesNotConfigured  = newErr(9, "ServicesNotConfigured", KindValidation)
	ErrInvalidQuoteParameters = newErr(10, "InvalidQuoteParameters", KindValidation)
	ErrQuoteNotFound          = newErr(11, "QuoteNotFound", KindNotFound)
	ErrNoQuotesAvailable      = newErr(12, "NoQuotesAvailable", KindNotFound)
	ErrSessionNotFound        = newErr(13, "SessionNotFound", KindNotFound)
	ErrAuditLogNotFound       = newErr(14, "AuditLogNotFound", KindNotFound)
	ErrInvalidEndpointFormat  = newErr(15, "InvalidEndpointFormat", KindValidation)
	ErrEndpointNotFound       = newErr(16, "EndpointNotFound", KindNotFound)
	ErrInvalidSignature       = newErr(17, "InvalidSignature", KindValidation)
	ErrInvalidAssetSymbol     = newErr(18, "InvalidAssetSymbol", KindValidation)
	ErrInvalidIdentity        = newErr(19, "InvalidIdentity", KindValidation)
	ErrInvalidPayloadHash     = newErr(20, "InvalidPayloadHash", KindValidation)
)

// Credential errors occupy 25-29.
var (
	ErrInvalidCredentialFormat    = newErr(25, "InvalidCredentialFormat", KindValidation)
	ErrCredentialExpired          = newErr(26, "CredentialExpired", KindValidation)
	ErrCredentialRotationRequired = newErr(27, "CredentialRotationRequired", KindValidation)
	ErrCredentialNotFound         = newErr(28, "CredentialNotFound", KindNotFound)
	ErrInsecureCredentialStorage  = newErr(29, "InsecureCredentialStorage", KindValidation)
)

// Transaction intent errors occupy 30-34.
var (
	ErrInvalidTransactionIntent = newErr(30, "InvalidTransactionIntent", KindValidation)
	ErrComplianceNotMet         = newErr(31, "ComplianceNotMet", KindValidation)
	ErrStaleQuote               = newErr(32, "StaleQuote", KindValidation)
	ErrInvalidQuote             = newErr(33, "InvalidQuote", KindValidation)
	ErrIntentNotFound           = newErr(34, "IntentNotFound", KindNotFound)
)

// Fallback errors occupy 40-49.
var (
	ErrNoAnchorsAvailable = newErr(40, "NoAnchorsAvailable", KindExhaustion)
	ErrInvalidConfig      = newErr(41, "InvalidConfig", KindValidation)
)

// Errors lists every domain error, ordered by code.
var Errors = []*Error{
	ErrUnauthorized, ErrAlreadyRegistered, ErrAttestorNotRegistered,
	ErrUnauthorizedAttestor, ErrReplayDetected, ErrInvalidTimestamp,
	ErrAttestationNotFound, ErrInvalidServiceType, ErrServicesNotConfigured,
	ErrInvalidQuoteParameters, ErrQuoteNotFound, ErrNoQuotesAvailable,
	ErrSessionNotFound, ErrAuditLogNotFound, ErrInvalidEndpointFormat,
	ErrEndpointNotFound, ErrInvalidSignature, ErrInvalidAssetSymbol,
	ErrInvalidIdentity, ErrInvalidPayloadHash,
	ErrInvalidCredentialFormat, ErrCredentialExpired, ErrCredentialRotationRequired,
	ErrCredentialNotFound, ErrInsecureCredentialStorage,
	ErrInvalidTransactionIntent, ErrComplianceNotMet, ErrStaleQuote,
	ErrInvalidQuote, ErrIntentNotFound,
	ErrNoAnchorsAvailable, ErrInvalidConfig,
}

// ErrorByCode returns the domain error registered under code.
func ErrorByCode(code int) (*Error, bool) {
	for _, e := range Errors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}
