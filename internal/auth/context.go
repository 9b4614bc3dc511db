package auth

import (
	"context"

	"github.com/slimpdf/slimpdf-api/internal/models"
)

type contextKey string

const resultKey contextKey = "identity"

func WithResult(ctx context.Context, r Result) context.Context {
	return context.WithValue(ctx, resultKey, r)
}

func ResultFromContext(ctx context.Context) (Result, bool) {
	r, ok := ctx.Value(resultKey).(Result)
	return r, ok
}

// IdentityFromContext returns the caller's identity, or an anonymous identity
// with no IP when the request never passed the identity middleware.
func IdentityFromContext(ctx context.Context) models.Identity {
	if r, ok := ResultFromContext(ctx); ok {
		return r.Identity
	}
	return models.Anonymous("")
}
