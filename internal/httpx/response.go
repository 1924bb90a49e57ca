// Package httpx holds the HTTP plumbing shared by both services: JSON
// responses, error bodies and per-caller rate limiting.
package httpx

import (
	"encoding/json"
	"net/http"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// WriteJSON writes v as JSON with status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache marks the response as not cacheable.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as an [ErrorBody] with the status of its category.
// Server-side failures (5xx other than 502/503/504) expose no message.
func WriteError(w http.ResponseWriter, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()
	msg := e.Message
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	WriteJSON(w, status, ErrorBody{Code: e.Code.String(), Message: msg})
}
