package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
)

// Timeout cancels the request context after timeout and answers 504 if the
// handler has not started writing by then. Embedding-backed similarity
// requests are the slow path this guards.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &timeoutWriter{ResponseWriter: w, h: w.Header().Clone()}
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if tw.claim() {
					logger.FromContext(r.Context()).Warn("request timed out",
						"method", r.Method,
						"path", r.URL.Path,
						"timeout", timeout,
					)
					writeError(w, http.StatusGatewayTimeout, "request timeout")
				}
			}
		})
	}
}

// timeoutWriter lets exactly one side (handler or timeout) own the response.
// The handler gets its own header map; it is copied to the real writer on
// the first write, under mu, so the timeout path never shares it.
type timeoutWriter struct {
	http.ResponseWriter
	h        http.Header
	mu       sync.Mutex
	written  bool
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

// commit must be called with mu held.
func (tw *timeoutWriter) commit() {
	if tw.written {
		return
	}
	tw.written = true
	dst := tw.ResponseWriter.Header()
	for k, vv := range tw.h {
		dst[k] = vv
	}
}

// claim marks the response as owned by the timeout path. It fails if the
// handler already wrote.
func (tw *timeoutWriter) claim() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.written {
		return false
	}
	tw.timedOut = true
	return true
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	tw.commit()
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, context.DeadlineExceeded
	}
	tw.commit()
	return tw.ResponseWriter.Write(b)
}
