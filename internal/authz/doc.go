// Package authz decides whether an authenticated principal may invoke an
// operation.
//
// Operation owners declare required roles on a Builder during bootstrap, either
// for a single operation or for a whole group. Build freezes the declarations
// into a Registry that is safe for concurrent reads. A Guard resolves the role
// set for a Target (operation first, then group), reads the principal placed on
// the request context by the authentication middleware and returns a Decision.
package authz
