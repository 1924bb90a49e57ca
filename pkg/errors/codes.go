package errors

// Code is a machine-readable error code following the CATEGORY_NNN
// pattern. Codes are stable once assigned; the category prefix selects the
// transport status (see [Error.HTTPStatus]).
type Code string

// Code categories:
//
//	VAL_xxx      - Validation (400 Bad Request)
//	AUTH_xxx     - Authentication of the bearer credential (401 Unauthorized)
//	AUTHZ_xxx    - Authorization decision (403 Forbidden)
//	NF_xxx       - Not found (404 Not Found)
//	ACQ_xxx      - Token acquisition from the issuer (502 Bad Gateway)
//	UPSTREAM_xxx - Upstream service rejected an authorized call (502 Bad Gateway)
//	CONF_xxx     - Conflict with the current state (409 Conflict)
//	TIMEOUT_xxx  - Deadline exceeded or canceled (504 Gateway Timeout)
//	INT_xxx      - Internal (500 Internal Server Error)
//	UNAVAIL_xxx  - Dependency unavailable (503 Service Unavailable)
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required value is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a value has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates the request carried no usable bearer
	// credential (absent or malformed Authorization header).
	CodeAuthentication Code = "AUTH_001"

	// CodeMalformedToken indicates the token could not be parsed
	// structurally.
	CodeMalformedToken Code = "AUTH_002"

	// CodeUnknownSigningKey indicates the token's key id is not part of the
	// issuer's key set, even after one refresh.
	CodeUnknownSigningKey Code = "AUTH_003"

	// CodeInvalidSignature indicates the signature does not verify against
	// the resolved key.
	CodeInvalidSignature Code = "AUTH_004"

	// CodeIssuerMismatch indicates the iss claim differs from the expected
	// issuer.
	CodeIssuerMismatch Code = "AUTH_005"

	// CodeTokenExpired indicates the exp claim is in the past.
	CodeTokenExpired Code = "AUTH_006"

	// CodeTokenNotYetValid indicates the nbf claim is in the future.
	CodeTokenNotYetValid Code = "AUTH_007"

	// CodeAudienceMismatch indicates the aud claim does not contain the
	// configured audience.
	CodeAudienceMismatch Code = "AUTH_008"

	// CodeDenied is the authorization decision Deny. It never names the
	// authority that was missing.
	CodeDenied Code = "AUTHZ_001"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeAcquisitionFailed indicates the token endpoint could not be
	// reached, answered with a non-2xx status, or returned an unusable
	// token.
	CodeAcquisitionFailed Code = "ACQ_001"

	// CodeUpstreamRejected indicates a downstream service refused a call
	// made on the caller's behalf, even after the token was refreshed.
	CodeUpstreamRejected Code = "UPSTREAM_001"

	// CodeConflict indicates the operation is not allowed in the current
	// state, such as an invalid lifecycle transition.
	CodeConflict Code = "CONF_001"

	// CodeTimeout indicates the caller's deadline expired or its context
	// was canceled.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates the process configuration could
	// not be loaded.
	CodeInternalConfiguration Code = "INT_002"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates an upstream service did not
	// answer or answered unexpectedly.
	CodeUnavailableDependency Code = "UNAVAIL_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("AUTH" for
// "AUTH_004"). A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
