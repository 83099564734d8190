package authz

import (
	"context"

	"rolegate/internal/domain"
)

type principalKey struct{}

// ContextWithPrincipal stores the authenticated principal in the context.
// Only the authentication middleware should call it.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached to ctx, if any.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ExtractPrincipal returns the whole principal when field is empty, or the
// value of the named field otherwise. It reports false when no principal is
// attached or the field is unknown or unset; absence is not an error.
func ExtractPrincipal(ctx context.Context, field string) (any, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	if field == "" {
		return p, true
	}
	return p.Field(field)
}
