package admin

import (
	"context"
	"errors"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/obs"
)

// Default administrator credentials created by EnsureAdmin when none are given.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "1234567890"
)

// EnsureAdmin creates an active administrator holding the universal grant unless
// the username is already taken. It reports whether a user was created.
func EnsureAdmin(ctx context.Context, store auth.Store, username, password string) (bool, error) {
	username = NormalizeUsername(username)
	if username == "" {
		username = DefaultAdminUsername
	}
	if password == "" {
		password = DefaultAdminPassword
	}
	users := store.Users(ctx)
	if _, err := users.FindByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return false, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	u := &auth.User{
		Username:     username,
		PasswordHash: hash,
		Fullname:     "Administrator",
		Type:         auth.UserTypePeople,
		Active:       true,
	}
	if err := users.Create(ctx, u); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	if _, err := store.Permissions(ctx).ReplaceForUser(ctx, u.ID, []auth.Permission{auth.Universal()}); err != nil {
		return false, err
	}
	obs.Logger().Info("admin_bootstrapped", "user_id", u.ID, "username", username)
	return true, nil
}
