package auth

import (
	"context"
	"time"
)

// ServiceIdentity describes a machine caller that passed signature
// verification on an internal route, such as the ops tooling that
// triggers the stale-payment sweep.
type ServiceIdentity struct {
	// Subject names the shared secret the caller signed with.
	Subject string
	// SignedAt is the timestamp the caller embedded in the signature.
	SignedAt time.Time
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches a verified service caller to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireHMAC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}
