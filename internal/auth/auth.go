package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gatehouse.org/internal/obs"
)

const (
	defaultIssuer    = "gatehouse"
	defaultTokenTTL  = 24 * time.Hour
	defaultMaxTokens = 5
	saveAttempts     = 5
)

// TokenClaims are carried by every session token.
type TokenClaims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager issues, verifies and revokes session tokens. Live tokens are kept
// on the user record as a bounded FIFO list.
type TokenManager struct {
	store     Store
	secret    []byte
	issuer    string
	ttl       time.Duration
	maxTokens int
	now       func() time.Time
}

// TokenOption configures TokenManager behavior.
type TokenOption func(*TokenManager) error

// WithTokenTTL sets the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(m *TokenManager) error {
		if ttl > 0 {
			m.ttl = ttl
		}
		return nil
	}
}

// WithMaxTokens bounds the per-user session list.
func WithMaxTokens(n int) TokenOption {
	return func(m *TokenManager) error {
		if n < 1 {
			return fmt.Errorf("%w: max tokens must be at least 1", ErrInvalidInput)
		}
		m.maxTokens = n
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(m *TokenManager) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			m.issuer = issuer
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(m *TokenManager) error {
		if fn != nil {
			m.now = fn
		}
		return nil
	}
}

// NewTokenManager constructs a TokenManager signing with the HS256 secret.
func NewTokenManager(store Store, secret string, opts ...TokenOption) (*TokenManager, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	m := &TokenManager{
		store:     store,
		secret:    []byte(secret),
		issuer:    defaultIssuer,
		ttl:       defaultTokenTTL,
		maxTokens: defaultMaxTokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// TTL is the lifetime of newly issued tokens.
func (m *TokenManager) TTL() time.Duration { return m.ttl }

// MaxTokens is the size of the per-user session list.
func (m *TokenManager) MaxTokens() int { return m.maxTokens }

// Issue signs a token for user, appends it to the user's session list (evicting
// the oldest entries beyond the bound) and persists the list. user.Tokens and
// user.Version are refreshed from the saved record.
func (m *TokenManager) Issue(ctx context.Context, user *User) (string, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	token, err := m.sign(user)
	if err != nil {
		return "", err
	}
	saved, err := m.mutate(ctx, user.ID, func(u *User) bool {
		u.Tokens = appendBounded(u.Tokens, token, m.maxTokens)
		return true
	})
	if err != nil {
		return "", err
	}
	user.Tokens = saved.Tokens
	user.Version = saved.Version
	obs.ObserveSessionIssued()
	return token, nil
}

// Revoke removes one token from the user's list. Absent tokens are not an error.
func (m *TokenManager) Revoke(ctx context.Context, userID, token string) error {
	_, err := m.mutate(ctx, userID, func(u *User) bool {
		for i, t := range u.Tokens {
			if t == token {
				u.Tokens = append(u.Tokens[:i:i], u.Tokens[i+1:]...)
				return true
			}
		}
		return false
	})
	if err == nil {
		obs.ObserveSessionRevoked("single")
	}
	return err
}

// RevokeAll invalidates every session of the user.
func (m *TokenManager) RevokeAll(ctx context.Context, userID string) error {
	_, err := m.mutate(ctx, userID, func(u *User) bool {
		if len(u.Tokens) == 0 {
			return false
		}
		u.Tokens = nil
		return true
	})
	if err == nil {
		obs.ObserveSessionRevoked("all")
	}
	return err
}

// Parse verifies signature, issuer and time claims. Failures map onto
// ErrTokenExpired, ErrTokenNotActive or ErrTokenInvalid.
func (m *TokenManager) Parse(token string) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}
	parsed, err := jwt.ParseWithClaims(token, &TokenClaims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return nil, ErrTokenNotActive
	case err != nil:
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *TokenManager) sign(user *User) (string, error) {
	now := m.now().UTC()
	claims := TokenClaims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// mutate applies fn to a fresh copy of the user and saves it, retrying on
// version conflicts. fn returns false when there is nothing to save.
func (m *TokenManager) mutate(ctx context.Context, userID string, fn func(*User) bool) (*User, error) {
	users := m.store.Users(ctx)
	for attempt := 0; attempt < saveAttempts; attempt++ {
		u, err := users.Find(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !fn(u) {
			return u, nil
		}
		err = users.Save(ctx, u)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, ErrConflict
}

func appendBounded(tokens []string, token string, max int) []string {
	out := append([]string(nil), tokens...)
	for len(out) >= max {
		out = out[1:]
	}
	return append(out, token)
}
