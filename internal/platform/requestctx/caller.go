package requestctx

import "context"

// callerContextKey is the context key for the effective caller identity.
type callerContextKey struct{}

// requestIDContextKey is the context key for the request identifier.
type requestIDContextKey struct{}

// WithCaller stores the effective caller identity in context. The identity
// is the one supplied by the identity-forwarding layer, not the transport
// peer.
func WithCaller(ctx context.Context, caller string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the effective caller identity stored in context.
func CallerFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(callerContextKey{}).(string)
	return value
}

// WithRequestID stores a request identifier in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request identifier stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey{}).(string)
	return value
}
