// Package middleware contains the HTTP middleware of the fixjam server:
// access logging and identity resolution.
//
// The pattern is:
//
//	func MyMiddleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // before
//	        next.ServeHTTP(w, r)
//	        // after
//	    })
//	}
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/fixjam/internal/model"
)

// identitySink lets ResolveIdentity report the resolved identity back out
// to Logger, which wraps it.
type identitySink struct {
	ident *model.Identity
}

const sinkKey contextKey = "identity-sink"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger logs each request with slog. It runs outside ResolveIdentity, so
// the identity arrives through an identitySink.
//
// Each log line includes method, path, status, duration, bytes, the chi
// request id, and the identity id when the request was authenticated.
// Banned refusals are logged at warn.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			sink := &identitySink{}
			ctx := context.WithValue(r.Context(), sinkKey, sink)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			}
			if id := chimw.GetReqID(r.Context()); id != "" {
				attrs = append(attrs, slog.String("requestID", id))
			}
			if sink.ident != nil && sink.ident.IsAuthenticated() {
				attrs = append(attrs, slog.String("identityID", sink.ident.ID))
			}

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode == StatusBanned:
				level = slog.LevelWarn
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}
