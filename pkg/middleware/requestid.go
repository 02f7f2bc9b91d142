// Package middleware provides the HTTP middleware shared by the corpusdiff
// API and the report sink: request IDs, Prometheus metrics and timeouts.
package middleware

import (
	"net/http"

	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in and out of the service.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with an ID, reusing the caller's header when
// present, and stores it on the context for logger.FromContext.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// Chain applies middleware so that the first argument is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
