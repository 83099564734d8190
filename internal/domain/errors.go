package domain

import "errors"

// Sentinel errors used across service boundaries.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInsufficientRole   = errors.New("insufficient role")
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidToken       = errors.New("invalid token")
)

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error         string   `json:"error"`
	Message       string   `json:"message"`
	Reason        string   `json:"reason,omitempty"`
	RequiredRoles []string `json:"required_roles,omitempty"`
	RetryAfter    int      `json:"retry_after,omitempty"`
}
