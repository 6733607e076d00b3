// Package auth supplies the authenticated principal to the request state
// machine. The core trusts this identity without re-verifying credentials.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// Role is the coarse authorization level carried by a principal.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleManager   Role = "manager"
	RoleAdmin     Role = "admin"
)

// Principal is the authenticated identity attached to every operation.
type Principal struct {
	UserID      string
	Email       string
	Role        Role
	ManagedPods []string
}

// CanModerate reports whether the principal may approve or reject requests
// belonging to the given POD. Admins moderate any POD; managers only the
// PODs they manage.
func (p Principal) CanModerate(podID string) bool {
	if p.Role == RoleAdmin {
		return true
	}
	if p.Role != RoleManager {
		return false
	}
	for _, id := range p.ManagedPods {
		if id == podID {
			return true
		}
	}
	return false
}

type ctxKey struct{}

// ErrNoPrincipal is returned when a request carries no authenticated identity.
var ErrNoPrincipal = errors.New("auth: no principal in context")

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext extracts the principal set by the auth middleware.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	if !ok {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// FromRequest is a convenience wrapper over FromContext.
func FromRequest(r *http.Request) (Principal, error) {
	return FromContext(r.Context())
}
