package admin

import (
	"context"
	"strings"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/stream"
)

// ProfileInput updates profile fields; nil fields are left unchanged.
type ProfileInput struct {
	ID       string     `json:"id"`
	Fullname *string    `json:"fullname"`
	Email    *string    `json:"email"`
	Phone    *string    `json:"phone"`
	Address  *string    `json:"address"`
	Avatar   *string    `json:"avatar"`
	Gender   *string    `json:"gender"`
	Birthday *time.Time `json:"birthday"`
}

// userSnapshot is the audited view of a user; secrets and tokens stay out.
type userSnapshot struct {
	ID       string     `json:"id"`
	Username string     `json:"username"`
	Email    string     `json:"email,omitempty"`
	Fullname string     `json:"fullname,omitempty"`
	Phone    string     `json:"phone,omitempty"`
	Address  string     `json:"address,omitempty"`
	Avatar   string     `json:"avatar,omitempty"`
	Gender   string     `json:"gender,omitempty"`
	Birthday *time.Time `json:"birthday,omitempty"`
	Active   bool       `json:"active"`
	Deleted  bool       `json:"deleted"`
}

func snapshotUser(u *auth.User) userSnapshot {
	return userSnapshot{
		ID: u.ID, Username: u.Username, Email: u.Email, Fullname: u.Fullname,
		Phone: u.Phone, Address: u.Address, Avatar: u.Avatar, Gender: u.Gender,
		Birthday: u.Birthday, Active: u.Active, Deleted: u.Deleted,
	}
}

// ListUsers pages live users ordered by username.
func (s *Service) ListUsers(ctx context.Context, q auth.Query) (Page[auth.User], error) {
	q = q.Normalize()
	users, total, err := s.store.Users(ctx).List(ctx, q)
	if err != nil {
		return Page[auth.User]{}, err
	}
	return newPage(users, total, q), nil
}

// GetUser looks a user up by id when key is a UUID and by username otherwise.
func (s *Service) GetUser(ctx context.Context, key string) (*auth.User, error) {
	key = strings.TrimSpace(key)
	users := s.store.Users(ctx)
	id := key
	if !ids.IsEntity(key) {
		u, err := users.FindByUsername(ctx, NormalizeUsername(key))
		if err != nil {
			return nil, userLookupError(err)
		}
		id = u.ID
	}
	u, err := users.FindWithAccess(ctx, id)
	if err != nil {
		return nil, userLookupError(err)
	}
	return u, nil
}

// UpdateProfile changes profile fields. Callers may edit themselves; editing
// anyone else needs USER_UPDATE.
func (s *Service) UpdateProfile(ctx context.Context, in ProfileInput) (*auth.User, error) {
	ac, ok := auth.AuthFromContext(ctx)
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	if in.ID == "" {
		in.ID = ac.UserID()
	}
	if in.ID != ac.UserID() && !ac.Can(auth.Any, auth.Require(auth.SubjectUser, auth.UserUpdate)) {
		return nil, auth.ErrForbidden
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	before, after, err := s.updateUser(ctx, in.ID, func(u *auth.User) error {
		set(&u.Fullname, in.Fullname)
		set(&u.Email, in.Email)
		set(&u.Phone, in.Phone)
		set(&u.Address, in.Address)
		set(&u.Avatar, in.Avatar)
		set(&u.Gender, in.Gender)
		if in.Birthday != nil {
			b := in.Birthday.UTC()
			u.Birthday = &b
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.history.Record(ctx, auth.SubjectUser, auth.UserUpdate, after.ID, snapshotUser(before), snapshotUser(after))
	return after, nil
}

// DeleteUser soft-deletes a user, ends its sessions and notifies it.
func (s *Service) DeleteUser(ctx context.Context, id string) (*Result, error) {
	before, after, err := s.updateUser(ctx, id, func(u *auth.User) error {
		u.Deleted = true
		u.Tokens = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(before.Tokens) > 0 {
		// tokens were dropped with the row, outside TokenManager.RevokeAll
		obs.ObserveSessionRevoked("all")
	}
	s.history.Record(ctx, auth.SubjectUser, auth.UserDelete, id, deletedView(before), deletedView(after))
	s.notify(ctx, id, stream.EventUserDeleted, map[string]string{"action": stream.EventUserDeleted})
	return &Result{ID: after.ID, Username: after.Username, Message: "User deleted successfully"}, nil
}

func deletedView(u *auth.User) map[string]any {
	return map[string]any{"id": u.ID, "username": u.Username, "deleted": u.Deleted}
}

// SetPassword replaces another user's password and ends its sessions.
func (s *Service) SetPassword(ctx context.Context, id, password string) (*Result, error) {
	password = strings.TrimSpace(password)
	if err := ValidatePassword("password", password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	_, after, err := s.updateUser(ctx, id, func(u *auth.User) error {
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.endSessions(ctx, id, stream.EventSessionsRevoked, map[string]string{"reason": "password_set"})
	s.history.Record(ctx, auth.SubjectUser, auth.UserSetPassword, id, nil, snapshotUser(after))
	return &Result{ID: after.ID, Username: after.Username, Message: "Set user password successfully"}, nil
}

// SetActive toggles the active flag and ends the user's sessions.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Result, error) {
	before, after, err := s.updateUser(ctx, id, func(u *auth.User) error {
		u.Active = active
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.endSessions(ctx, id, stream.EventSessionsRevoked, map[string]any{"reason": "active_changed", "active": active})
	s.history.Record(ctx, auth.SubjectUser, auth.UserSetActive, id,
		map[string]any{"id": id, "active": before.Active},
		map[string]any{"id": id, "active": after.Active})
	return &Result{ID: after.ID, Username: after.Username, Message: "Set user active successfully"}, nil
}

// SetRoles makes roleIDs the user's exact role set and ends its sessions.
func (s *Service) SetRoles(ctx context.Context, id string, roleIDs []string) (*Result, error) {
	roleIDs = uniqueIDs(roleIDs)
	roles, err := s.store.Roles(ctx).FindMany(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if len(roles) != len(roleIDs) {
		return nil, auth.Invalid("roleId", "Some roles is invalid")
	}
	users := s.store.Users(ctx)
	current, err := users.FindWithAccess(ctx, id)
	if err != nil {
		return nil, userLookupError(err)
	}
	if err := users.SetRoles(ctx, id, roleIDs); err != nil {
		return nil, userLookupError(err)
	}
	s.endSessions(ctx, id, stream.EventPermissionsChanged, map[string]any{"roleIds": roleIDs})
	s.history.Record(ctx, auth.SubjectUser, auth.UserSetRole, id,
		map[string]any{"id": id, "roles": roleRefs(current.Roles)},
		map[string]any{"id": id, "roles": roleRefs(roles)})
	return &Result{ID: id, Username: current.Username, Message: "Set user role successfully"}, nil
}

type roleRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func roleRefs(roles []auth.Role) []roleRef {
	out := make([]roleRef, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleRef{ID: r.ID, Name: r.Name})
	}
	return out
}

// SetPermissions replaces the user's direct permissions and ends its sessions.
func (s *Service) SetPermissions(ctx context.Context, id string, perms []auth.Permission) (*Result, error) {
	if err := validatePermissions(perms); err != nil {
		return nil, err
	}
	current, err := s.store.Users(ctx).FindWithAccess(ctx, id)
	if err != nil {
		return nil, userLookupError(err)
	}
	stored, err := s.store.Permissions(ctx).ReplaceForUser(ctx, id, perms)
	if err != nil {
		return nil, userLookupError(err)
	}
	s.endSessions(ctx, id, stream.EventPermissionsChanged, map[string]int{"count": len(stored)})
	s.history.Record(ctx, auth.SubjectUser, auth.UserSetPermissions, id,
		map[string]any{"id": id, "permissions": current.Permissions},
		map[string]any{"id": id, "permissions": stored})
	return &Result{ID: id, Username: current.Username, Message: "Set user permissions successfully"}, nil
}

// SetDepartments makes departmentIDs the user's exact department set. Sessions stay open.
func (s *Service) SetDepartments(ctx context.Context, id string, departmentIDs []string) (*Result, error) {
	departmentIDs = uniqueIDs(departmentIDs)
	found, err := s.store.Departments(ctx).FindMany(ctx, departmentIDs)
	if err != nil {
		return nil, err
	}
	if len(found) != len(departmentIDs) {
		return nil, auth.Invalid("departmentId", "Some departments is invalid")
	}
	users := s.store.Users(ctx)
	current, err := users.FindWithAccess(ctx, id)
	if err != nil {
		return nil, userLookupError(err)
	}
	if err := users.SetDepartments(ctx, id, departmentIDs); err != nil {
		return nil, userLookupError(err)
	}
	s.history.Record(ctx, auth.SubjectUser, auth.UserSetDepartment, id,
		map[string]any{"id": id, "departments": departmentIDsOf(current.Departments)},
		map[string]any{"id": id, "departments": departmentIDs})
	return &Result{ID: id, Username: current.Username, Message: "Set user departments successfully"}, nil
}

func departmentIDsOf(ds []auth.Department) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}

// validatePermissions checks the vocabulary and that expiry lies in the future.
func validatePermissions(perms []auth.Permission) error {
	grants := make([]auth.Grant, len(perms))
	for i, p := range perms {
		grants[i] = p.Grant()
	}
	if err := auth.ValidatePermissionGrant(grants...); err != nil {
		return err
	}
	now := time.Now()
	for _, p := range perms {
		if p.Expired(now) {
			return auth.Invalid("expirationDate", "Permission expiration date must be in the future")
		}
	}
	return nil
}
