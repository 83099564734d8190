package authz

import (
	"maps"
	"slices"

	"rolegate/internal/domain"
)

// MetadataKey is the name under which required roles are declared, both in
// route policy files and in diagnostic output.
const MetadataKey = "roles"

// Level identifies the granularity at which a role set was declared.
type Level int

const (
	LevelNone Level = iota
	LevelGroup
	LevelOperation
)

func (l Level) String() string {
	switch l {
	case LevelGroup:
		return "group"
	case LevelOperation:
		return "operation"
	default:
		return "none"
	}
}

// Ref names a declaration site: a single operation or a group of operations.
type Ref struct {
	Level Level
	Name  string
}

// GroupRef refers to every operation registered under the named group.
func GroupRef(name string) Ref {
	return Ref{Level: LevelGroup, Name: name}
}

// OperationRef refers to a single operation.
func OperationRef(name string) Ref {
	return Ref{Level: LevelOperation, Name: name}
}

// Target is the handle the router supplies for each invocation.
type Target struct {
	Group     string
	Operation string
}

// Builder collects role declarations during application bootstrap. It is not
// safe for concurrent use; call Build once declarations are complete.
type Builder struct {
	groups     map[string][]domain.Role
	operations map[string][]domain.Role
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		groups:     make(map[string][]domain.Role),
		operations: make(map[string][]domain.Role),
	}
}

// AttachRequiredRoles declares the roles accepted by ref. Roles are stored as
// given: order and duplicates are kept and unknown values are not rejected.
// Attaching with no roles declares an explicitly empty set, which at operation
// level overrides any group declaration. A later call for the same ref
// replaces the earlier one.
func (b *Builder) AttachRequiredRoles(ref Ref, roles ...domain.Role) *Builder {
	set := make([]domain.Role, len(roles))
	copy(set, roles)
	switch ref.Level {
	case LevelGroup:
		b.groups[ref.Name] = set
	case LevelOperation:
		b.operations[ref.Name] = set
	}
	return b
}

// Build freezes the declarations. Later changes to the Builder do not affect
// the returned Registry.
func (b *Builder) Build() *Registry {
	return &Registry{
		groups:     cloneSets(b.groups),
		operations: cloneSets(b.operations),
	}
}

func cloneSets(in map[string][]domain.Role) map[string][]domain.Role {
	out := make(map[string][]domain.Role, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

// Registry is the immutable result of Builder.Build.
type Registry struct {
	groups     map[string][]domain.Role
	operations map[string][]domain.Role
}

// Resolve returns the required role set for t and the level it came from.
// An operation declaration, even an empty one, shadows the group declaration.
// The returned slice must not be modified.
func (r *Registry) Resolve(t Target) ([]domain.Role, Level) {
	if r == nil {
		return nil, LevelNone
	}
	if roles, ok := r.operations[t.Operation]; ok && t.Operation != "" {
		return roles, LevelOperation
	}
	if roles, ok := r.groups[t.Group]; ok && t.Group != "" {
		return roles, LevelGroup
	}
	return nil, LevelNone
}

// Lookup returns the roles declared directly on ref, without fallback.
func (r *Registry) Lookup(ref Ref) ([]domain.Role, bool) {
	if r == nil {
		return nil, false
	}
	var roles []domain.Role
	var ok bool
	switch ref.Level {
	case LevelGroup:
		roles, ok = r.groups[ref.Name]
	case LevelOperation:
		roles, ok = r.operations[ref.Name]
	}
	return slices.Clone(roles), ok
}

// Operations returns the names of all operations with a direct declaration,
// sorted.
func (r *Registry) Operations() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.operations))
}
