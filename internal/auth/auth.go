// Package auth authenticates callers of the daemon's control API.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// Role is the access level of an identity. Higher roles include lower ones.
type Role int

const (
	RoleNone Role = iota
	// RoleViewer can read status and the audit trail.
	RoleViewer
	// RoleOperator can also trigger prune runs.
	RoleOperator
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleViewer:
		return "viewer"
	case RoleOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// ParseRole parses "viewer" or "operator". An empty string is RoleNone.
func ParseRole(s string) (Role, error) {
	switch s {
	case "":
		return RoleNone, nil
	case "viewer":
		return RoleViewer, nil
	case "operator":
		return RoleOperator, nil
	default:
		return RoleNone, errors.New("unknown role: " + s)
	}
}

// Identity is an authenticated caller.
type Identity struct {
	ID   string // hash prefix of the key, safe to log
	Name string
	Role Role
}

type contextKey struct{}

// IdentityFromContext returns the caller stored by the middleware, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// ContextWithIdentity stores id in ctx.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Authenticator resolves the caller of a request. It returns (nil, nil) when
// the request carries no credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (*Identity, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidKeyFormat   = errors.New("invalid API key format")
)
