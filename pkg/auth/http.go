package auth

import (
	"context"
	"encoding/json"
	"net/http"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// PatternMatcher reports the route pattern a request would be dispatched
// to. [*http.ServeMux] implements it.
type PatternMatcher interface {
	Handler(r *http.Request) (h http.Handler, pattern string)
}

// HTTPMiddleware guards next with g. The route pattern comes from routes,
// normally the same ServeMux that next dispatches to, so the table is keyed
// by the registered patterns ("GET /orders/{id}").
//
// Responses:
//   - missing, malformed or unverifiable token: 401 with
//     WWW-Authenticate: Bearer error="invalid_token"
//   - Deny: 403 {"code":"AUTHZ_001","message":"access denied"}
//
// A request that matches no pattern is passed on after authentication so
// the mux answers 404 (or 405) itself.
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("GET /orders", h.List)
//	handler := auth.HTTPMiddleware(guard, mux)(mux)
func HTTPMiddleware(g *Guard, routes PatternMatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pattern := routes.Handler(r)
			ctx := r.Context()

			if pattern == "" {
				if _, err := g.authenticate(ctx, r.Header.Get(HeaderAuthorization)); err != nil {
					writeAuthError(w, err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			res, err := g.Check(ctx, r.Header.Get(HeaderAuthorization), pattern)
			if err != nil {
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withResult(ctx, res)))
		})
	}
}

// authenticate runs the bearer and verify states only.
func (g *Guard) authenticate(ctx context.Context, header string) (*VerifiedClaims, error) {
	token := ExtractBearerToken(header)
	if token == "" {
		return nil, sserr.ErrMissingCredentials
	}
	return g.verifier.Verify(ctx, token, g.issuer)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeAuthError writes a guard failure. Only the code and the fixed
// message of the taxonomy member are exposed.
func writeAuthError(w http.ResponseWriter, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()
	msg := publicMessage(e)

	if status == http.StatusUnauthorized {
		w.Header().Set(HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: e.Code.String(), Message: msg})
}

// publicMessage maps a code to the message of its sentinel so that
// internal detail (key ids, fetch errors) never reaches the caller.
func publicMessage(e *sserr.Error) string {
	for _, s := range []*sserr.Error{
		sserr.ErrMissingCredentials,
		sserr.ErrMalformedToken,
		sserr.ErrUnknownSigningKey,
		sserr.ErrInvalidSignature,
		sserr.ErrIssuerMismatch,
		sserr.ErrTokenExpired,
		sserr.ErrTokenNotYetValid,
		sserr.ErrAudienceMismatch,
		sserr.ErrDenied,
	} {
		if e.Code == s.Code {
			return s.Message
		}
	}
	if e.HTTPStatus() == http.StatusUnauthorized {
		return sserr.ErrMalformedToken.Message
	}
	return "internal error"
}
