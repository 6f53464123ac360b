// Package correlation propagates a per-request correlation id through
// context so logs and audit entries for one notification can be joined.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// correlationKey is an unexported type for context keys within this package.
type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, preferring
// the supplied candidate (e.g. an inbound X-Request-Id header) and generating
// one when both are missing.
func EnsureCorrelationID(ctx context.Context, candidate string) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = strings.TrimSpace(candidate)
	}
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}
