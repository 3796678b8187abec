// Package middleware holds chi-compatible HTTP middleware shared by the
// job API: request ID propagation, panic recovery, CORS, and access
// logging.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDHeader is the header a caller-supplied or generated request ID
// travels under, both inbound and on the response.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request a correlation ID: the inbound header
// value if present, otherwise a freshly generated UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// GetRequestID returns the request ID stashed by RequestID, or "" if none.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
