package errors

import (
	"errors"
	"fmt"
)

// Sentinels for the verification and acquisition taxonomy. Compare with
// errors.Is; matching is by code only.
var (
	ErrMissingCredentials = New(CodeAuthentication, "missing or malformed bearer credential")
	ErrMalformedToken     = New(CodeMalformedToken, "token is malformed")
	ErrUnknownSigningKey  = New(CodeUnknownSigningKey, "token signing key is unknown")
	ErrInvalidSignature   = New(CodeInvalidSignature, "token signature is invalid")
	ErrIssuerMismatch     = New(CodeIssuerMismatch, "token issuer does not match")
	ErrTokenExpired       = New(CodeTokenExpired, "token has expired")
	ErrTokenNotYetValid   = New(CodeTokenNotYetValid, "token is not yet valid")
	ErrAudienceMismatch   = New(CodeAudienceMismatch, "token audience does not match")
	ErrDenied             = New(CodeDenied, "access denied")
	ErrAcquisitionFailed  = New(CodeAcquisitionFailed, "token acquisition failed")
)

// New creates an Error without a cause.
//
//	err := errors.New(errors.CodeValidation, "config: issuer must not be empty")
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps err as the cause of a new Error. Wrap returns nil when err is
// nil.
//
//	tok, err := cfg.Token(ctx)
//	if err != nil {
//	    return nil, errors.Wrap(err, errors.CodeAcquisitionFailed, "token: request failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// Validation creates a VAL_001 error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a VAL_001 error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFoundf creates an NF_001 error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Denied creates the generic Deny error. Its message never names the
// missing authority.
func Denied() *Error {
	return New(CodeDenied, "access denied")
}

// Internal creates an INT_001 error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// FromError converts err into an *Error. An *Error anywhere in the chain
// is returned as-is; anything else is wrapped as an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
