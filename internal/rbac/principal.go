package rbac

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the authenticated actor. Superuser status is derived from role
// membership, never stored on the principal.
type Principal struct {
	UserID   uuid.UUID
	Username string
	Roles    []string
}

// Authenticated reports whether the principal identifies a real account.
func (p Principal) Authenticated() bool {
	return p.UserID != uuid.Nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom extracts the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
