package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"rolegate/internal/authz"
	"rolegate/internal/domain"
)

// Policy maps route groups and operations to backends and required roles.
//
// A nil Roles pointer means nothing was declared at that level; a pointer to
// an empty slice is an explicit empty declaration.
type Policy struct {
	Groups []Group `yaml:"groups" validate:"required,min=1,dive"`
}

// Group is a set of operations served under a common prefix by one backend.
type Group struct {
	Name       string         `yaml:"name" validate:"required"`
	Prefix     string         `yaml:"prefix" validate:"required,startswith=/"`
	Backend    string         `yaml:"backend" validate:"required,url"`
	Roles      *[]domain.Role `yaml:"roles"`
	Operations []Operation    `yaml:"operations" validate:"required,min=1,dive"`
}

// Operation is a single method and path below a group prefix.
type Operation struct {
	Name   string         `yaml:"name" validate:"required"`
	Method string         `yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Path   string         `yaml:"path" validate:"required,startswith=/"`
	Roles  *[]domain.Role `yaml:"roles"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadPolicy reads and validates a YAML policy file.
func LoadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("opening policy: %w", err)
	}
	defer f.Close()
	return ParsePolicy(f)
}

// ParsePolicy decodes and validates a YAML policy. Unknown keys are rejected.
// Role values are not checked against domain.KnownRoles.
func ParsePolicy(r io.Reader) (Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("decoding policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Routes served by the gateway itself. DescribeOperation is declared by the
// host, so a policy may not reuse the name or mount a group over these paths.
const (
	DescribeOperation = "policy.describe"
	DescribePath      = "/v1/policy"
)

// ReservedPaths returns the paths no group prefix may overlap.
func ReservedPaths() []string {
	return []string{DescribePath, "/healthz", "/readyz", "/metrics", "/auth/token", "/.well-known/jwks.json"}
}

// Validate checks field constraints and rejects policies whose routes would
// shadow each other: duplicate group or operation names, overlapping group
// prefixes, two operations on the same method and path within a group, and
// anything claiming a reserved name or path.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	groups := make(map[string]struct{}, len(p.Groups))
	ops := make(map[string]struct{})
	for i, g := range p.Groups {
		if _, dup := groups[g.Name]; dup {
			return fmt.Errorf("invalid policy: duplicate group %q", g.Name)
		}
		groups[g.Name] = struct{}{}
		for _, other := range p.Groups[:i] {
			if prefixesOverlap(g.Prefix, other.Prefix) {
				return fmt.Errorf("invalid policy: prefix %q of group %q overlaps %q of group %q",
					g.Prefix, g.Name, other.Prefix, other.Name)
			}
		}

		routes := make(map[string]string, len(g.Operations))
		for _, op := range g.Operations {
			if op.Name == DescribeOperation {
				return fmt.Errorf("invalid policy: operation name %q is reserved", op.Name)
			}
			if _, dup := ops[op.Name]; dup {
				return fmt.Errorf("invalid policy: duplicate operation %q", op.Name)
			}
			ops[op.Name] = struct{}{}

			key := op.Method + " " + routeShape(op.Path)
			if prev, dup := routes[key]; dup {
				return fmt.Errorf("invalid policy: operations %q and %q both route %s %s%s",
					prev, op.Name, op.Method, g.Prefix, op.Path)
			}
			routes[key] = op.Name
		}
	}
	return p.CheckMounts(ReservedPaths()...)
}

// CheckMounts reports an error if any group prefix overlaps one of paths.
func (p Policy) CheckMounts(paths ...string) error {
	for _, g := range p.Groups {
		for _, path := range paths {
			if prefixesOverlap(g.Prefix, path) {
				return fmt.Errorf("invalid policy: prefix %q of group %q overlaps reserved path %q", g.Prefix, g.Name, path)
			}
		}
	}
	return nil
}

// prefixesOverlap reports whether one path is equal to, or a segment-wise
// ancestor of, the other.
func prefixesOverlap(a, b string) bool {
	a, b = strings.TrimSuffix(a, "/"), strings.TrimSuffix(b, "/")
	if a == "" || b == "" || a == b {
		return true
	}
	return strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// routeShape drops URL parameter names so /{id} and /{invoiceID} compare
// equal; regexp constraints are kept.
func routeShape(path string) string {
	var sb strings.Builder
	for {
		open := strings.IndexByte(path, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(path[open:], '}')
		if end < 0 {
			break
		}
		param := path[open+1 : open+end]
		sb.WriteString(path[:open])
		sb.WriteByte('{')
		if i := strings.IndexByte(param, ':'); i >= 0 {
			sb.WriteString(param[i:])
		}
		sb.WriteByte('}')
		path = path[open+end+1:]
	}
	sb.WriteString(path)
	return sb.String()
}

// Attach declares the policy's role sets on b.
func (p Policy) Attach(b *authz.Builder) {
	for _, g := range p.Groups {
		if g.Roles != nil {
			b.AttachRequiredRoles(authz.GroupRef(g.Name), *g.Roles...)
		}
		for _, op := range g.Operations {
			if op.Roles != nil {
				b.AttachRequiredRoles(authz.OperationRef(op.Name), *op.Roles...)
			}
		}
	}
}

func roles(r ...domain.Role) *[]domain.Role {
	if r == nil {
		r = []domain.Role{}
	}
	return &r
}

// DefaultPolicy is the built-in route policy used when no policy file is
// configured. Every group is served by backendURL.
func DefaultPolicy(backendURL string) Policy {
	return Policy{Groups: []Group{
		{
			Name:    "invoices",
			Prefix:  "/v1/invoices",
			Backend: backendURL,
			Roles:   roles(domain.RoleAdmin, domain.RoleUser),
			Operations: []Operation{
				{Name: "invoices.list", Method: "GET", Path: "/"},
				{Name: "invoices.get", Method: "GET", Path: "/{id}"},
				{Name: "invoices.create", Method: "POST", Path: "/"},
				{Name: "invoices.void", Method: "POST", Path: "/{id}/void",
					Roles: roles(domain.RoleAdmin, domain.RoleSuperAdmin)},
				{Name: "invoices.preview", Method: "GET", Path: "/preview", Roles: roles()},
			},
		},
		{
			Name:    "tax",
			Prefix:  "/v1/tax",
			Backend: backendURL,
			Operations: []Operation{
				{Name: "tax.rates", Method: "GET", Path: "/rates"},
				{Name: "tax.calculate", Method: "POST", Path: "/calculate",
					Roles: roles(domain.RoleAdmin, domain.RoleUser)},
			},
		},
		{
			Name:    "sgk",
			Prefix:  "/v1/sgk",
			Backend: backendURL,
			Roles:   roles(domain.RoleAdmin, domain.RoleSuperAdmin),
			Operations: []Operation{
				{Name: "sgk.declarations.list", Method: "GET", Path: "/declarations"},
				{Name: "sgk.declarations.submit", Method: "POST", Path: "/declarations"},
			},
		},
		{
			Name:    "admin",
			Prefix:  "/v1/admin",
			Backend: backendURL,
			Roles:   roles(domain.RoleSuperAdmin),
			Operations: []Operation{
				{Name: "admin.users.list", Method: "GET", Path: "/users"},
				{Name: "admin.users.role", Method: "PUT", Path: "/users/{id}/role"},
			},
		},
	}}
}
