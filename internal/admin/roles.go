package admin

import (
	"context"
	"errors"
	"strings"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/stream"
)

// RoleInput creates a role.
type RoleInput struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []auth.Permission `json:"permissions"`
}

// RoleUpdate edits a role. A nil Description keeps the current one. A nil
// Permissions keeps the current set; any other value replaces it and ends the
// sessions of every member.
type RoleUpdate struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description *string           `json:"description"`
	Permissions []auth.Permission `json:"permissions"`
}

type roleSnapshot struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Permissions []auth.Permission `json:"permissions"`
}

func snapshotRole(r *auth.Role) roleSnapshot {
	perms := r.Permissions
	if perms == nil {
		perms = []auth.Permission{}
	}
	return roleSnapshot{ID: r.ID, Name: r.Name, Description: r.Description, Permissions: perms}
}

func roleLookupError(err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		return auth.NotFound("Role not found")
	}
	return err
}

func roleNameError(err error) error {
	if errors.Is(err, auth.ErrAlreadyExists) {
		return auth.Invalid("name", "Role already exists")
	}
	return roleLookupError(err)
}

// ListRoles pages live roles ordered by name.
func (s *Service) ListRoles(ctx context.Context, q auth.Query) (Page[auth.Role], error) {
	q = q.Normalize()
	roles, total, err := s.store.Roles(ctx).List(ctx, q)
	if err != nil {
		return Page[auth.Role]{}, err
	}
	return newPage(roles, total, q), nil
}

// GetRole looks a role up by id when key is a UUID and by name otherwise.
func (s *Service) GetRole(ctx context.Context, key string) (*auth.Role, error) {
	key = strings.TrimSpace(key)
	roles := s.store.Roles(ctx)
	if ids.IsEntity(key) {
		r, err := roles.Find(ctx, key)
		if err != nil {
			return nil, roleLookupError(err)
		}
		return r, nil
	}
	r, err := roles.FindByName(ctx, key)
	if err != nil {
		return nil, roleLookupError(err)
	}
	r, err = roles.Find(ctx, r.ID)
	if err != nil {
		return nil, roleLookupError(err)
	}
	return r, nil
}

// CreateRole stores a new role with its permissions.
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (*auth.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, auth.Invalid("name", "Role name is required")
	}
	if err := validatePermissions(in.Permissions); err != nil {
		return nil, err
	}
	r := &auth.Role{Name: name, Description: strings.TrimSpace(in.Description)}
	if err := s.store.Roles(ctx).Create(ctx, r); err != nil {
		return nil, roleNameError(err)
	}
	perms, err := s.store.Permissions(ctx).ReplaceForRole(ctx, r.ID, in.Permissions)
	if err != nil {
		return nil, roleLookupError(err)
	}
	r.Permissions = perms
	s.history.Record(ctx, auth.SubjectRole, auth.ActionCreate, r.ID, nil, snapshotRole(r))
	return r, nil
}

// UpdateRole renames and describes a role and optionally replaces its permissions.
func (s *Service) UpdateRole(ctx context.Context, in RoleUpdate) (*auth.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, auth.Invalid("name", "Role name is required")
	}
	if in.Permissions != nil {
		if err := validatePermissions(in.Permissions); err != nil {
			return nil, err
		}
	}
	roles := s.store.Roles(ctx)
	current, err := roles.Find(ctx, in.ID)
	if err != nil {
		return nil, roleLookupError(err)
	}
	next := current.Clone()
	next.Name = name
	if in.Description != nil {
		next.Description = strings.TrimSpace(*in.Description)
	}
	if err := roles.Save(ctx, &next); err != nil {
		return nil, roleNameError(err)
	}
	if in.Permissions != nil {
		perms, err := s.store.Permissions(ctx).ReplaceForRole(ctx, next.ID, in.Permissions)
		if err != nil {
			return nil, roleLookupError(err)
		}
		next.Permissions = perms
		members, err := s.store.Users(ctx).IDsWithRole(ctx, next.ID)
		if err != nil {
			return nil, err
		}
		for _, uid := range members {
			s.endSessions(ctx, uid, stream.EventPermissionsChanged, map[string]string{"roleId": next.ID})
		}
	}
	s.history.Record(ctx, auth.SubjectRole, auth.ActionUpdate, next.ID, snapshotRole(current), snapshotRole(&next))
	return &next, nil
}

// DeleteRole soft-deletes a role. Its members lose its permissions on their next request.
func (s *Service) DeleteRole(ctx context.Context, id string) (*Result, error) {
	roles := s.store.Roles(ctx)
	r, err := roles.Find(ctx, id)
	if err != nil {
		return nil, roleLookupError(err)
	}
	r.Deleted = true
	if err := roles.Save(ctx, r); err != nil {
		return nil, roleLookupError(err)
	}
	s.history.Record(ctx, auth.SubjectRole, auth.ActionDelete, id,
		map[string]any{"id": r.ID, "name": r.Name, "deleted": false},
		map[string]any{"id": r.ID, "name": r.Name, "deleted": true})
	return &Result{ID: r.ID, Name: r.Name, Message: "Role deleted successfully"}, nil
}
