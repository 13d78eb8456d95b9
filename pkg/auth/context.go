package auth

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

type contextKey int

const (
	identityKey contextKey = iota
	captureKey
	resolutionKey
)

// resolution records that [ResolveIdentity] already ran on a request and
// why it produced no identity, if it did not.
type resolution struct {
	err error
}

type capture struct {
	mu       sync.Mutex
	identity Identity
	set      bool
}

// ContextWithIdentity attaches a validated identity to ctx. If an outer
// middleware installed a capture with [WithIdentityCapture], the identity
// is also reported to it.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	if c, ok := ctx.Value(captureKey).(*capture); ok {
		c.mu.Lock()
		c.identity, c.set = identity, true
		c.mu.Unlock()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// WithIdentityCapture returns a context that remembers the identity later
// attached beneath it, and a function reading that identity back. It lets
// a wrapping middleware see who the request was resolved to after inner
// handlers return.
func WithIdentityCapture(ctx context.Context) (context.Context, func() (Identity, bool)) {
	c := &capture{}
	return context.WithValue(ctx, captureKey, c), func() (Identity, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.identity, c.set
	}
}

// IdentityFromContext returns the identity attached by the authentication
// middleware. ok is false on anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// MustIdentityFromContext is IdentityFromContext for handlers mounted
// behind mandatory authentication. A missing identity means the handler
// was wired without the middleware, so it panics.
func MustIdentityFromContext(ctx context.Context) Identity {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		panic("auth: no identity in context; handler is not behind RequireIdentity")
	}
	return id
}

// TraceIDFromContext returns the OpenTelemetry trace ID of ctx, if any.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return "", false
	}
	return sc.TraceID().String(), true
}
