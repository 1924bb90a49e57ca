package logging

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// HTTPMiddleware attaches a request logger to each request context and logs
// one "http_request" line when the handler returns. The request id is taken
// from X-Request-ID or generated, and echoed in the response. When a span is
// active the logger also carries trace_id and span_id, so install it inside
// the tracing middleware.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			rw.Header().Set(HeaderRequestID, reqID)

			ctx := r.Context()
			ctx = WithContext(ctx, base.With(
				"method", r.Method,
				"path", r.URL.Path,
			).With(traceAttrs(ctx)...))
			ctx = WithRequestID(ctx, reqID)

			next.ServeHTTP(rw, r.WithContext(ctx))

			FromContext(ctx).LogAttrs(ctx, slog.LevelInfo, "http_request",
				slog.Int("status", rw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
