package auth

import (
	"context"
	"errors"
)

// State is the terminal state of one guard check.
type State string

const (
	StateAuthenticated State = "AUTHENTICATED"
	StateAnonymous     State = "ANONYMOUS_ALLOWED"
	StateRejected      State = "REJECTED"
)

// Decision is the outcome of Guard.Check. Err holds the failure reason for
// rejected and downgraded requests.
type Decision struct {
	State State
	Auth  *AuthContext
	Err   error
}

// Reason is the client-facing failure text, or "" when authenticated.
func (d Decision) Reason() string {
	if d.Err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(d.Err, &ae) {
		return ae.Reason
	}
	return ErrTokenInvalid.Reason
}

// Guard resolves a session token to an AuthContext. It never writes.
type Guard struct {
	store  Store
	tokens *TokenManager
}

// NewGuard wires the guard to the user store and token verifier.
func NewGuard(store Store, tokens *TokenManager) *Guard {
	return &Guard{store: store, tokens: tokens}
}

// Check runs the authentication state machine for one request. When
// allowAnonymous is set every failure downgrades to StateAnonymous.
func (g *Guard) Check(ctx context.Context, token string, allowAnonymous bool) Decision {
	a, err := g.authenticate(ctx, token)
	switch {
	case err == nil:
		return Decision{State: StateAuthenticated, Auth: a}
	case allowAnonymous:
		return Decision{State: StateAnonymous, Err: err}
	default:
		return Decision{State: StateRejected, Err: err}
	}
}

func (g *Guard) authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	claims, err := g.tokens.Parse(token)
	if err != nil {
		return nil, asAuthError(err)
	}
	user, err := g.store.Users(ctx).FindWithAccess(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, &guardFailure{cause: err}
	}
	if !user.HasToken(token) {
		return nil, ErrTokenRevoked
	}
	if !user.Active {
		return nil, ErrUserInactive
	}
	return NewAuthContext(user, EffectivePermissions(user), token), nil
}

// EffectivePermissions is the user's direct permissions followed by the permissions of
// all assigned roles, each permission id appearing once.
func EffectivePermissions(user *User) []Permission {
	seen := make(map[string]struct{})
	var out []Permission
	add := func(p Permission) {
		if p.ID != "" {
			if _, dup := seen[p.ID]; dup {
				return
			}
			seen[p.ID] = struct{}{}
		}
		out = append(out, p)
	}
	for _, p := range user.Permissions {
		add(p)
	}
	for _, r := range user.Roles {
		for _, p := range r.Permissions {
			add(p)
		}
	}
	return out
}

// guardFailure hides an unexpected error behind the generic invalid-token reason
// while keeping the cause for logs.
type guardFailure struct {
	cause error
}

func (e *guardFailure) Error() string { return ErrTokenInvalid.Reason }

func (e *guardFailure) Unwrap() []error { return []error{ErrTokenInvalid, e.cause} }

func asAuthError(err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	return &guardFailure{cause: err}
}
