package errors

import (
	"errors"
)

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "" if
// there is none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the first *Error in err's chain has code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a VAL_xxx error.
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsAuthentication reports whether err is an AUTH_xxx error, i.e. the
// bearer credential was rejected and the caller should see a 401.
func IsAuthentication(err error) bool {
	return hasCategory(err, "AUTH")
}

// IsAuthorization reports whether err is an AUTHZ_xxx error.
func IsAuthorization(err error) bool {
	return hasCategory(err, "AUTHZ")
}

// IsNotFound reports whether err is an NF_xxx error.
func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

// IsAcquisition reports whether err is an ACQ_xxx error.
func IsAcquisition(err error) bool {
	return hasCategory(err, "ACQ")
}

// IsInternal reports whether err is an INT_xxx error.
func IsInternal(err error) bool {
	return hasCategory(err, "INT")
}

// IsUnavailable reports whether err is an UNAVAIL_xxx error.
func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

// IsUpstream reports whether err is an UPSTREAM_xxx error.
func IsUpstream(err error) bool {
	return hasCategory(err, "UPSTREAM")
}

// IsConflict reports whether err is a CONF_xxx error.
func IsConflict(err error) bool {
	return hasCategory(err, "CONF")
}

// IsTimeout reports whether err is a TIMEOUT_xxx error.
func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsClientError reports whether err maps to a 4xx status.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "VAL", "AUTH", "AUTHZ", "NF", "CONF":
		return true
	default:
		return false
	}
}
