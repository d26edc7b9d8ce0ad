package auth

import (
	"context"
	"strings"
)

// Store describes persistence operations required by the admin backend.
// Every lookup excludes soft-deleted rows.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Departments(ctx context.Context) DepartmentStore
	Permissions(ctx context.Context) PermissionStore
	History(ctx context.Context) HistoryStore
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Query pages and filters list operations.
type Query struct {
	Page   int
	Limit  int
	Search string
	Desc   bool
}

// Normalize clamps paging to sane values.
func (q Query) Normalize() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

func (q Query) Offset() int { return (q.Page - 1) * q.Limit }

// HistoryQuery filters the audit trail.
type HistoryQuery struct {
	Query
	Subject   string
	SubjectID string
	UserID    string
}

// UserStore manages users. Save is optimistic: it fails with ErrConflict when
// the stored version differs from u.Version and bumps u.Version on success.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByToken(ctx context.Context, token string) (*User, error)
	// FindWithAccess loads roles (with their permissions), departments and direct permissions.
	FindWithAccess(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, q Query) ([]User, int, error)
	Save(ctx context.Context, u *User) error
	SetRoles(ctx context.Context, userID string, roleIDs []string) error
	SetDepartments(ctx context.Context, userID string, departmentIDs []string) error
	IDsWithRole(ctx context.Context, roleID string) ([]string, error)
}

// RoleStore manages roles. Find loads permissions.
type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	FindMany(ctx context.Context, ids []string) ([]Role, error)
	List(ctx context.Context, q Query) ([]Role, int, error)
	Save(ctx context.Context, r *Role) error
}

// DepartmentStore manages the department tree.
type DepartmentStore interface {
	Create(ctx context.Context, d *Department) error
	Find(ctx context.Context, id string) (*Department, error)
	FindByName(ctx context.Context, name string) (*Department, error)
	FindMany(ctx context.Context, ids []string) ([]Department, error)
	List(ctx context.Context, q Query) ([]Department, int, error)
	All(ctx context.Context) ([]Department, error)
	Save(ctx context.Context, d *Department) error
	// SetChildren makes childIDs the exact set of children of parentID.
	SetChildren(ctx context.Context, parentID string, childIDs []string) error
}

// PermissionStore manages permissions owned by users and roles.
type PermissionStore interface {
	ReplaceForUser(ctx context.Context, userID string, perms []Permission) ([]Permission, error)
	ReplaceForRole(ctx context.Context, roleID string, perms []Permission) ([]Permission, error)
	ForUser(ctx context.Context, userID string) ([]Permission, error)
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// HistoryStore appends immutable entries.
type HistoryStore interface {
	Append(ctx context.Context, h *History) error
	List(ctx context.Context, q HistoryQuery) ([]History, int, error)
}
