package server

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the caller's correlation id.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

// withCorrelationID echoes the caller's correlation id, or a fresh one, on
// the response and stores it in the request context.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		ctx := context.WithValue(r.Context(), correlationKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationID returns the id stored by the correlation middleware.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
