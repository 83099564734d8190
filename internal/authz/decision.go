package authz

import (
	"rolegate/internal/domain"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotAuthenticated Reason = "not authenticated"
	ReasonInsufficientRole Reason = "insufficient role"
)

// Code is the snake_case form used in JSON responses and metric labels.
func (r Reason) Code() string {
	switch r {
	case ReasonNotAuthenticated:
		return "not_authenticated"
	case ReasonInsufficientRole:
		return "insufficient_role"
	default:
		return "none"
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Required []domain.Role
	// Level is where Required was declared. Evaluate leaves it zero; Guard.Decide fills it.
	Level Level
}

// Evaluate applies the decision algorithm to a resolved role set and an
// optional principal. It is pure: equal inputs give equal decisions.
func Evaluate(required []domain.Role, principal *domain.Principal) Decision {
	if len(required) == 0 {
		return Decision{Allowed: true}
	}
	if principal == nil {
		return Decision{Reason: ReasonNotAuthenticated, Required: required}
	}
	if principal.HasAnyRole(required) {
		return Decision{Allowed: true, Required: required}
	}
	return Decision{Reason: ReasonInsufficientRole, Required: required}
}

// Err returns nil for an allowed decision and the matching sentinel otherwise.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonNotAuthenticated:
		return domain.ErrNotAuthenticated
	default:
		return domain.ErrInsufficientRole
	}
}
