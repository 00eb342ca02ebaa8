package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/contextkeys"
)

// RequestIDHeader carries the request id to clients and upstream proxies
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request a unique id, honoring one supplied by a
// trusted proxy. The id lands in the context and the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := contextkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
