package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderRequestID is the correlation header propagated end-to-end: read
// from the client if present, generated otherwise, echoed on the
// response, and forwarded to the backend.
const HeaderRequestID = "X-Request-Id"

func init() {
	// Batch crypto/rand reads into a pool to avoid a syscall per UUID.
	uuid.EnableRandPool()
}

type requestIDKey struct{}

// RequestID generates or propagates a correlation id, attaching it to the
// request context, the outbound request header, and the response header.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.New().String()
			}
			r.Header.Set(HeaderRequestID, id)
			w.Header().Set(HeaderRequestID, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext retrieves the correlation id attached by RequestID,
// or "" if none is present (e.g. in a unit test that bypasses the
// middleware chain).
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// GetRequestID extracts the correlation id from an in-flight request.
func GetRequestID(r *http.Request) string {
	return RequestIDFromContext(r.Context())
}
