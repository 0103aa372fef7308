// Package context carries request and posting-attempt identity through a context.Context.
package context

import (
	"context"

	"github.com/google/uuid"
)

// Origins of a trace.
const (
	OriginHTTP   = "http"
	OriginPoller = "poller"
)

// Trace correlates the log lines of one request, one queue message or one
// posting attempt. Values are copied on derivation, never mutated.
type Trace struct {
	TraceID   string
	RequestID string
	Origin    string
	AttemptID string
}

type traceKey struct{}

// WithTrace stores t in ctx. An empty TraceID is generated.
func WithTrace(ctx context.Context, t Trace) context.Context {
	if t.TraceID == "" {
		t.TraceID = uuid.NewString()
	}
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the trace stored in ctx.
func TraceFrom(ctx context.Context) (Trace, bool) {
	t, ok := ctx.Value(traceKey{}).(Trace)
	return t, ok
}

// WithAttempt derives a trace for one Engine.Post call, keeping the parent's ids.
func WithAttempt(ctx context.Context, attemptID string) context.Context {
	t, _ := TraceFrom(ctx)
	t.AttemptID = attemptID
	return WithTrace(ctx, t)
}
