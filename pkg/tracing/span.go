// Package tracing records in-process span trees for analysis runs. Spans
// travel on the context; a finished root span is logged at Debug.
package tracing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed operation.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    map[string]any
	parent   *Span
}

// StartSpan starts a root span for traceID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, TraceID: traceID, StartTime: time.Now(), attrs: map[string]any{}}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan starts a span under the one in ctx. Without a parent the
// child is a root with an empty trace ID.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	child := &Span{Name: name, StartTime: time.Now(), attrs: map[string]any{}, parent: parent}
	if parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// SetAttr attaches an attribute. Safe on a nil span.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attr returns a previously set attribute.
func (s *Span) Attr(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// Children returns a snapshot of the child spans.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// End stops the clock. Ending a root span logs the whole tree.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
	if s.parent == nil {
		s.log(0)
	}
}

func (s *Span) log(depth int) {
	s.mu.Lock()
	args := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.Duration.Milliseconds(),
		"depth", depth,
	}
	keys := make([]string, 0, len(s.attrs))
	for k := range s.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, s.attrs[k])
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	slog.Debug("span", args...)
	for _, child := range children {
		child.log(depth + 1)
	}
}
