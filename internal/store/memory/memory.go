// Package memory is an in-process auth.Store used by tests and by the API when no
// database DSN is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/ids"
)

// Store keeps every entity in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*auth.User
	userRoles   map[string][]string
	userDepts   map[string][]string
	roles       map[string]*auth.Role
	departments map[string]*auth.Department
	permissions map[string]*auth.Permission
	history     []auth.History
	now         func() time.Time
}

var _ auth.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]*auth.User),
		userRoles:   make(map[string][]string),
		userDepts:   make(map[string][]string),
		roles:       make(map[string]*auth.Role),
		departments: make(map[string]*auth.Department),
		permissions: make(map[string]*auth.Permission),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Users(context.Context) auth.UserStore             { return userStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore             { return roleStore{s} }
func (s *Store) Departments(context.Context) auth.DepartmentStore { return departmentStore{s} }
func (s *Store) Permissions(context.Context) auth.PermissionStore { return permissionStore{s} }
func (s *Store) History(context.Context) auth.HistoryStore        { return historyStore{s} }

type softDeletable interface {
	IsDeleted() bool
}

// notDeleted is the scope every read of a soft-deletable table goes through:
// it yields the rows that are not deleted and satisfy match. A nil match keeps
// every live row. Order is unspecified.
func notDeleted[T softDeletable](table map[string]T, match func(T) bool) []T {
	var out []T
	for _, row := range table {
		if row.IsDeleted() || (match != nil && !match(row)) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// liveByID is notDeleted narrowed to one primary key.
func liveByID[T softDeletable](table map[string]T, id string) (T, bool) {
	row, ok := table[id]
	if !ok || row.IsDeleted() {
		var zero T
		return zero, false
	}
	return row, true
}

func first[T softDeletable](table map[string]T, match func(T) bool) (T, bool) {
	rows := notDeleted(table, match)
	if len(rows) == 0 {
		var zero T
		return zero, false
	}
	return rows[0], true
}

// exists reports whether a live row satisfies match.
func exists[T softDeletable](table map[string]T, match func(T) bool) bool {
	_, ok := first(table, match)
	return ok
}

func (s *Store) permissionsWhere(match func(*auth.Permission) bool) []auth.Permission {
	var out []auth.Permission
	for _, p := range s.permissions {
		if match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) roleWithPermissions(r *auth.Role) auth.Role {
	c := r.Clone()
	c.Permissions = s.permissionsWhere(func(p *auth.Permission) bool { return p.RoleID == r.ID })
	return c
}

func matches(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), search) {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, q auth.Query) []T {
	start := q.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + q.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type userStore struct{ s *Store }

func (us userStore) Create(_ context.Context, u *auth.User) error {
	s := us.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if exists(s.users, func(e *auth.User) bool { return e.Username == u.Username }) {
		return auth.ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.NewEntity()
	}
	if u.Type == "" {
		u.Type = auth.UserTypePeople
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	u.Version = 1
	stored := u.Clone()
	stored.Roles, stored.Departments, stored.Permissions = nil, nil, nil
	s.users[u.ID] = stored
	return nil
}

func (us userStore) Find(_ context.Context, id string) (*auth.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	u, ok := liveByID(us.s.users, id)
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u.Clone(), nil
}

func (us userStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	u, ok := first(us.s.users, func(u *auth.User) bool { return u.Username == username })
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u.Clone(), nil
}

func (us userStore) FindByToken(_ context.Context, token string) (*auth.User, error) {
	us.s.mu.RLock()
	defer us.s.mu.RUnlock()
	u, ok := first(us.s.users, func(u *auth.User) bool { return u.HasToken(token) })
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u.Clone(), nil
}

func (us userStore) FindWithAccess(_ context.Context, id string) (*auth.User, error) {
	s := us.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := liveByID(s.users, id)
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := u.Clone()
	out.Roles = []auth.Role{}
	for _, rid := range s.userRoles[id] {
		if r, ok := liveByID(s.roles, rid); ok {
			out.Roles = append(out.Roles, s.roleWithPermissions(r))
		}
	}
	out.Departments = []auth.Department{}
	for _, did := range s.userDepts[id] {
		if d, ok := liveByID(s.departments, did); ok {
			out.Departments = append(out.Departments, *d)
		}
	}
	out.Permissions = s.permissionsWhere(func(p *auth.Permission) bool { return p.UserID == id })
	return out, nil
}

func (us userStore) List(_ context.Context, q auth.Query) ([]auth.User, int, error) {
	s := us.s
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []auth.User
	for _, u := range notDeleted(s.users, func(u *auth.User) bool {
		return matches(q.Search, u.Username, u.Email, u.Fullname)
	}) {
		all = append(all, *u.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if q.Desc {
			return all[i].Username > all[j].Username
		}
		return all[i].Username < all[j].Username
	})
	return paginate(all, q), len(all), nil
}

func (us userStore) Save(_ context.Context, u *auth.User) error {
	s := us.s
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := liveByID(s.users, u.ID)
	if !ok {
		return auth.ErrNotFound
	}
	if stored.Version != u.Version {
		return auth.ErrConflict
	}
	next := u.Clone()
	next.Roles, next.Departments, next.Permissions = nil, nil, nil
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = s.now()
	next.Version = stored.Version + 1
	s.users[u.ID] = next
	u.Version, u.UpdatedAt = next.Version, next.UpdatedAt
	return nil
}

func (us userStore) SetRoles(_ context.Context, userID string, roleIDs []string) error {
	s := us.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := liveByID(s.users, userID); !ok {
		return auth.ErrNotFound
	}
	s.userRoles[userID] = append([]string(nil), roleIDs...)
	return nil
}

func (us userStore) SetDepartments(_ context.Context, userID string, departmentIDs []string) error {
	s := us.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := liveByID(s.users, userID); !ok {
		return auth.ErrNotFound
	}
	s.userDepts[userID] = append([]string(nil), departmentIDs...)
	return nil
}

func (us userStore) IDsWithRole(_ context.Context, roleID string) ([]string, error) {
	s := us.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, u := range notDeleted(s.users, func(u *auth.User) bool {
		for _, rid := range s.userRoles[u.ID] {
			if rid == roleID {
				return true
			}
		}
		return false
	}) {
		out = append(out, u.ID)
	}
	sort.Strings(out)
	return out, nil
}

type roleStore struct{ s *Store }

func (rs roleStore) Create(_ context.Context, r *auth.Role) error {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if exists(s.roles, func(e *auth.Role) bool { return e.Name == r.Name }) {
		return auth.ErrAlreadyExists
	}
	if r.ID == "" {
		r.ID = ids.NewEntity()
	}
	now := s.now()
	r.CreatedAt, r.UpdatedAt = now, now
	stored := r.Clone()
	stored.Permissions = nil
	s.roles[r.ID] = &stored
	return nil
}

func (rs roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	r, ok := liveByID(rs.s.roles, id)
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := rs.s.roleWithPermissions(r)
	return &out, nil
}

func (rs roleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	r, ok := first(rs.s.roles, func(r *auth.Role) bool { return r.Name == name })
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := rs.s.roleWithPermissions(r)
	return &out, nil
}

func (rs roleStore) FindMany(_ context.Context, idList []string) ([]auth.Role, error) {
	rs.s.mu.RLock()
	defer rs.s.mu.RUnlock()
	var out []auth.Role
	for _, id := range idList {
		if r, ok := liveByID(rs.s.roles, id); ok {
			out = append(out, rs.s.roleWithPermissions(r))
		}
	}
	return out, nil
}

func (rs roleStore) List(_ context.Context, q auth.Query) ([]auth.Role, int, error) {
	s := rs.s
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []auth.Role
	for _, r := range notDeleted(s.roles, func(r *auth.Role) bool { return matches(q.Search, r.Name, r.Description) }) {
		all = append(all, s.roleWithPermissions(r))
	}
	sort.Slice(all, func(i, j int) bool {
		if q.Desc {
			return all[i].Name > all[j].Name
		}
		return all[i].Name < all[j].Name
	})
	return paginate(all, q), len(all), nil
}

func (rs roleStore) Save(_ context.Context, r *auth.Role) error {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := liveByID(s.roles, r.ID)
	if !ok {
		return auth.ErrNotFound
	}
	if !r.Deleted && exists(s.roles, func(e *auth.Role) bool { return e.ID != r.ID && e.Name == r.Name }) {
		return auth.ErrAlreadyExists
	}
	stored.Name = r.Name
	stored.Description = r.Description
	stored.Deleted = r.Deleted
	stored.UpdatedAt = s.now()
	r.UpdatedAt = stored.UpdatedAt
	return nil
}

type departmentStore struct{ s *Store }

func (ds departmentStore) Create(_ context.Context, d *auth.Department) error {
	s := ds.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if exists(s.departments, func(e *auth.Department) bool { return e.Name == d.Name }) {
		return auth.ErrAlreadyExists
	}
	if d.ID == "" {
		d.ID = ids.NewEntity()
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	stored := *d
	stored.Children = nil
	s.departments[d.ID] = &stored
	return nil
}

func (ds departmentStore) Find(_ context.Context, id string) (*auth.Department, error) {
	s := ds.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := liveByID(s.departments, id)
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *d
	out.Children = s.childrenOf(id)
	return &out, nil
}

func (s *Store) childrenOf(id string) []auth.Department {
	var out []auth.Department
	for _, d := range notDeleted(s.departments, func(d *auth.Department) bool { return d.ParentID == id }) {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (ds departmentStore) FindByName(_ context.Context, name string) (*auth.Department, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	d, ok := first(ds.s.departments, func(d *auth.Department) bool { return d.Name == name })
	if !ok {
		return nil, auth.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (ds departmentStore) FindMany(_ context.Context, idList []string) ([]auth.Department, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	var out []auth.Department
	for _, id := range idList {
		if d, ok := liveByID(ds.s.departments, id); ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (ds departmentStore) List(_ context.Context, q auth.Query) ([]auth.Department, int, error) {
	s := ds.s
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []auth.Department
	for _, d := range notDeleted(s.departments, func(d *auth.Department) bool {
		return matches(q.Search, d.Name, d.Description)
	}) {
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool {
		if q.Desc {
			return all[i].Name > all[j].Name
		}
		return all[i].Name < all[j].Name
	})
	return paginate(all, q), len(all), nil
}

func (ds departmentStore) All(_ context.Context) ([]auth.Department, error) {
	s := ds.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []auth.Department
	for _, d := range notDeleted(s.departments, nil) {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (ds departmentStore) Save(_ context.Context, d *auth.Department) error {
	s := ds.s
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := liveByID(s.departments, d.ID)
	if !ok {
		return auth.ErrNotFound
	}
	if !d.Deleted && exists(s.departments, func(e *auth.Department) bool { return e.ID != d.ID && e.Name == d.Name }) {
		return auth.ErrAlreadyExists
	}
	stored.Name = d.Name
	stored.Description = d.Description
	stored.ParentID = d.ParentID
	stored.Deleted = d.Deleted
	stored.UpdatedAt = s.now()
	d.UpdatedAt = stored.UpdatedAt
	return nil
}

func (ds departmentStore) SetChildren(_ context.Context, parentID string, childIDs []string) error {
	s := ds.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := liveByID(s.departments, parentID); !ok {
		return auth.ErrNotFound
	}
	keep := make(map[string]struct{}, len(childIDs))
	for _, id := range childIDs {
		keep[id] = struct{}{}
	}
	now := s.now()
	for _, d := range notDeleted(s.departments, nil) {
		_, want := keep[d.ID]
		switch {
		case want && d.ParentID != parentID:
			d.ParentID = parentID
			d.UpdatedAt = now
		case !want && d.ParentID == parentID:
			d.ParentID = ""
			d.UpdatedAt = now
		}
	}
	return nil
}

type permissionStore struct{ s *Store }

func (ps permissionStore) replace(owner func(*auth.Permission) bool, assign func(*auth.Permission), perms []auth.Permission) []auth.Permission {
	s := ps.s
	for id, p := range s.permissions {
		if owner(p) {
			delete(s.permissions, id)
		}
	}
	now := s.now()
	out := make([]auth.Permission, 0, len(perms))
	for i, p := range perms {
		p = p.Clone()
		p.ID = ids.NewEntity()
		p.UserID, p.RoleID = "", ""
		assign(&p)
		// keep insertion order stable for equal timestamps
		p.CreatedAt = now.Add(time.Duration(i))
		stored := p.Clone()
		s.permissions[p.ID] = &stored
		out = append(out, p)
	}
	return out
}

func (ps permissionStore) ReplaceForUser(_ context.Context, userID string, perms []auth.Permission) ([]auth.Permission, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	if _, ok := liveByID(ps.s.users, userID); !ok {
		return nil, auth.ErrNotFound
	}
	return ps.replace(
		func(p *auth.Permission) bool { return p.UserID == userID },
		func(p *auth.Permission) { p.UserID = userID },
		perms,
	), nil
}

func (ps permissionStore) ReplaceForRole(_ context.Context, roleID string, perms []auth.Permission) ([]auth.Permission, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	if _, ok := liveByID(ps.s.roles, roleID); !ok {
		return nil, auth.ErrNotFound
	}
	return ps.replace(
		func(p *auth.Permission) bool { return p.RoleID == roleID },
		func(p *auth.Permission) { p.RoleID = roleID },
		perms,
	), nil
}

func (ps permissionStore) ForUser(_ context.Context, userID string) ([]auth.Permission, error) {
	ps.s.mu.RLock()
	defer ps.s.mu.RUnlock()
	return ps.s.permissionsWhere(func(p *auth.Permission) bool { return p.UserID == userID }), nil
}

func (ps permissionStore) ForRole(_ context.Context, roleID string) ([]auth.Permission, error) {
	ps.s.mu.RLock()
	defer ps.s.mu.RUnlock()
	return ps.s.permissionsWhere(func(p *auth.Permission) bool { return p.RoleID == roleID }), nil
}

type historyStore struct{ s *Store }

func (hs historyStore) Append(_ context.Context, h *auth.History) error {
	s := hs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == "" {
		h.ID = ids.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}
	s.history = append(s.history, *h)
	return nil
}

func (hs historyStore) List(_ context.Context, q auth.HistoryQuery) ([]auth.History, int, error) {
	s := hs.s
	q.Query = q.Query.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []auth.History
	for i := len(s.history) - 1; i >= 0; i-- {
		h := s.history[i]
		if q.Subject != "" && h.Subject != q.Subject {
			continue
		}
		if q.SubjectID != "" && h.SubjectID != q.SubjectID {
			continue
		}
		if q.UserID != "" && h.UserID != q.UserID {
			continue
		}
		all = append(all, h)
	}
	return paginate(all, q.Query), len(all), nil
}
