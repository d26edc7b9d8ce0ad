package auth

import (
	"context"
	"time"
)

// AuthContext is the immutable result of a successful authentication: a user
// snapshot without roles and the flattened effective permissions.
type AuthContext struct {
	user        User
	permissions []Permission
	token       string
}

// NewAuthContext snapshots user and perms; later changes to either are not observed.
func NewAuthContext(user *User, perms []Permission, token string) *AuthContext {
	u := user.Clone()
	u.Roles = nil
	u.Tokens = nil
	u.Permissions = clonePermissions(perms)
	return &AuthContext{user: *u, permissions: clonePermissions(perms), token: token}
}

func (a *AuthContext) UserID() string   { return a.user.ID }
func (a *AuthContext) Username() string { return a.user.Username }
func (a *AuthContext) Token() string    { return a.token }

// User returns a copy of the authenticated user.
func (a *AuthContext) User() *User { return a.user.Clone() }

// Permissions returns a copy of the effective permissions.
func (a *AuthContext) Permissions() []Permission { return clonePermissions(a.permissions) }

// Can evaluates requirements against the effective permissions.
func (a *AuthContext) Can(mode Mode, reqs ...Requirement) bool {
	if a == nil {
		return false
	}
	return HasAccessAt(time.Now(), a.permissions, reqs, mode)
}

type authContextKey struct{}

// ContextWithAuth attaches the authentication result to the context.
func ContextWithAuth(ctx context.Context, a *AuthContext) context.Context {
	if a == nil {
		return ctx
	}
	return context.WithValue(ctx, authContextKey{}, a)
}

// AuthFromContext extracts the authentication result; ok is false for anonymous requests.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	if ctx == nil {
		return nil, false
	}
	a, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok || a == nil {
		return nil, false
	}
	return a, true
}

// ActorID returns the authenticated user id or "".
func ActorID(ctx context.Context) string {
	if a, ok := AuthFromContext(ctx); ok {
		return a.UserID()
	}
	return ""
}
