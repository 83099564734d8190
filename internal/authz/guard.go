package authz

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"rolegate/internal/domain"
)

// DeniedError is returned by Guard.Authorize when a decision denies access.
// It unwraps to domain.ErrForbidden and to the reason sentinel
// (domain.ErrNotAuthenticated or domain.ErrInsufficientRole). Use
// Guard.Localize for the user-facing message.
type DeniedError struct {
	Target   Target
	Decision Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied to operation %q: %s", e.Target.Operation, e.Decision.Reason)
}

func (e *DeniedError) Unwrap() []error {
	return []error{domain.ErrForbidden, e.Decision.Err()}
}

// Guard enforces the registry for each invocation. It holds no per-request
// state and is safe for concurrent use.
type Guard struct {
	registry *Registry
	messages *Messages
	disclose bool
	logger   *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithMessages sets the localized message catalog.
func WithMessages(m *Messages) Option {
	return func(g *Guard) { g.messages = m }
}

// WithRoleDisclosure controls whether insufficient-role messages name the
// roles that would have been accepted. Enabled by default.
func WithRoleDisclosure(disclose bool) Option {
	return func(g *Guard) { g.disclose = disclose }
}

// WithLogger sets the logger used for denial diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// NewGuard returns a Guard over reg. Without WithMessages, denial messages are
// rendered in English.
func NewGuard(reg *Registry, opts ...Option) (*Guard, error) {
	g := &Guard{registry: reg, disclose: true}
	for _, opt := range opts {
		opt(g)
	}
	if g.messages == nil {
		m, err := NewMessages(language.English)
		if err != nil {
			return nil, err
		}
		g.messages = m
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Decide resolves the role set for t and evaluates it against the principal
// on ctx. The principal is only read when the role set is non-empty.
func (g *Guard) Decide(ctx context.Context, t Target) Decision {
	required, level := g.registry.Resolve(t)
	var d Decision
	if len(required) == 0 {
		d = Evaluate(nil, nil)
	} else if p, ok := PrincipalFromContext(ctx); ok {
		d = Evaluate(required, &p)
	} else {
		d = Evaluate(required, nil)
	}
	d.Level = level
	return d
}

// Authorize returns nil when the principal on ctx may invoke t, and a
// *DeniedError otherwise.
func (g *Guard) Authorize(ctx context.Context, t Target) error {
	d := g.Decide(ctx, t)
	if d.Allowed {
		return nil
	}

	principal, _ := PrincipalFromContext(ctx)
	g.logger.DebugContext(ctx, "authorization denied",
		"operation", t.Operation,
		"group", t.Group,
		"level", d.Level.String(),
		MetadataKey, domain.RoleNames(d.Required),
		"reason", string(d.Reason),
		"principal_id", principal.ID,
		"principal_role", string(principal.Role),
	)

	return &DeniedError{Target: t, Decision: d}
}

// Localize renders the denial message for the best match of acceptLanguage.
// An empty acceptLanguage selects the fallback language.
func (g *Guard) Localize(err *DeniedError, acceptLanguage string) string {
	return g.messages.Render(g.messages.Negotiate(acceptLanguage), err.Decision, g.disclose)
}

// DisclosesRoles reports whether denials name the required roles.
func (g *Guard) DisclosesRoles() bool {
	return g.disclose
}

// Registry returns the registry the guard enforces.
func (g *Guard) Registry() *Registry {
	return g.registry
}
