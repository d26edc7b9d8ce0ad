package admin

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/stream"
)

// ErrTooManyAttempts is returned by Login when the caller is throttled. The
// returned error is a *ThrottledError that matches it with errors.Is.
var ErrTooManyAttempts = errors.New("admin: too many login attempts")

// ThrottledError carries how long the caller should wait before retrying.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string { return ErrTooManyAttempts.Error() }

func (e *ThrottledError) Is(target error) bool { return target == ErrTooManyAttempts }

const passwordSpecials = "@$!%*?&"

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Fullname string `json:"fullname"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Avatar   string `json:"avatar"`
	Gender   string `json:"gender"`
}

// Session is the result of a successful login.
type Session struct {
	User      *auth.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresIn int64      `json:"expiresIn"`
}

// NormalizeUsername is the stored form of a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidatePassword requires at least 8 characters drawn from letters, digits and
// @$!%*?&, with at least one of each class.
func ValidatePassword(field, password string) error {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return auth.Invalid(field, "Password contains an unsupported character")
		}
	}
	if len(password) < 8 || !lower || !upper || !digit || !special {
		return auth.Invalid(field, "Password must contain at least 8 characters, one uppercase letter, one lowercase letter, one special character, and one number")
	}
	return nil
}

// Register creates an inactive account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*auth.User, error) {
	username := NormalizeUsername(in.Username)
	if username == "" {
		return nil, auth.Invalid("username", "Username is required")
	}
	password := strings.TrimSpace(in.Password)
	if err := ValidatePassword("password", password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &auth.User{
		Username:     username,
		PasswordHash: hash,
		Email:        strings.TrimSpace(in.Email),
		Fullname:     strings.TrimSpace(in.Fullname),
		Phone:        strings.TrimSpace(in.Phone),
		Address:      strings.TrimSpace(in.Address),
		Avatar:       strings.TrimSpace(in.Avatar),
		Gender:       strings.TrimSpace(in.Gender),
		Type:         auth.UserTypePeople,
	}
	if err := s.store.Users(ctx).Create(ctx, u); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return nil, auth.Invalid("username", "User already exists")
		}
		return nil, err
	}
	s.history.Record(ctx, auth.SubjectUser, auth.ActionCreate, u.ID, nil, snapshotUser(u))
	return u, nil
}

// Login checks credentials and opens a session. remote identifies the client
// for throttling and may be empty.
func (s *Service) Login(ctx context.Context, username, password, remote string) (*Session, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, auth.Invalid("username", "Username is required")
	}
	if wait, ok := s.logins.allow(username+"|"+remote, time.Now()); !ok {
		obs.Logger().Warn("login_throttled", "username", username, "remote", remote, "retry_after", wait)
		return nil, &ThrottledError{RetryAfter: wait}
	}
	u, err := s.store.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, auth.Invalid("username", "User not found")
		}
		return nil, err
	}
	if !auth.PasswordMatches(u.PasswordHash, password) {
		return nil, auth.Invalid("password", "Invalid password")
	}
	if !u.Active {
		return nil, auth.Invalid("username", "User not active")
	}
	token, err := s.tokens.Issue(ctx, u)
	if err != nil {
		return nil, userLookupError(err)
	}
	fresh, err := s.store.Users(ctx).Find(ctx, u.ID)
	if err != nil {
		return nil, userLookupError(err)
	}
	return &Session{User: fresh, Token: token, ExpiresIn: int64(s.tokens.TTL() / time.Second)}, nil
}

// Logout revokes token from whichever user holds it. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	u, err := s.store.Users(ctx).FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.tokens.Revoke(ctx, u.ID, token); err != nil && !errors.Is(err, auth.ErrNotFound) {
		return err
	}
	return nil
}

// Me returns the caller with roles, departments and permissions, or nil when anonymous.
func (s *Service) Me(ctx context.Context) (*auth.User, error) {
	ac, ok := auth.AuthFromContext(ctx)
	if !ok {
		return nil, nil
	}
	u, err := s.store.Users(ctx).FindWithAccess(ctx, ac.UserID())
	if err != nil {
		return nil, userLookupError(err)
	}
	return u, nil
}

// ChangePassword replaces the caller's password after checking the old one and
// ends all of the caller's sessions.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword string) (*Result, error) {
	ac, ok := auth.AuthFromContext(ctx)
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	newPassword = strings.TrimSpace(newPassword)
	if err := ValidatePassword("password", newPassword); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	_, after, err := s.updateUser(ctx, ac.UserID(), func(u *auth.User) error {
		if !auth.PasswordMatches(u.PasswordHash, oldPassword) {
			return auth.Invalid("oldPassword", "Old password is incorrect")
		}
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.endSessions(ctx, after.ID, stream.EventSessionsRevoked, map[string]string{"reason": "password_changed"})
	s.history.Record(ctx, auth.SubjectUser, auth.UserChangePassword, after.ID, nil, snapshotUser(after))
	return &Result{ID: after.ID, Username: after.Username, Message: "User password changed successfully"}, nil
}
