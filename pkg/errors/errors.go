// Package errors provides the structured error type shared by the token
// cache, the dispatcher and the resource-side verification pipeline.
//
// # Error Categories
//
// Every error carries a machine-readable code of the form CATEGORY_NNN.
// The category decides how the error surfaces at a transport boundary:
//
//   - VAL: invalid input or configuration values (400)
//   - AUTH: the bearer credential could not be authenticated (401)
//   - AUTHZ: the credential is valid but the decision is Deny (403)
//   - NF: the requested record does not exist (404)
//   - ACQ: a token could not be acquired from the issuer (502)
//   - INT: unexpected internal failures (500)
//   - UNAVAIL: a dependency is temporarily unavailable (503)
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.CodeMalformedToken, "auth: token is malformed")
//
// Wrap a cause:
//
//	err := errors.Wrap(err, errors.CodeAcquisitionFailed, "token: request failed")
//
// Match a taxonomy member anywhere in a chain:
//
//	if stderrors.Is(err, errors.ErrTokenExpired) {
//	    // re-acquire
//	}
package errors
