package admin

import (
	"context"
	"errors"
	"sort"
	"strings"

	"gatehouse.org/internal/auth"
)

// DepartmentInput creates a department.
type DepartmentInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
}

// DepartmentUpdate edits a department. A nil Description keeps the current one.
// An empty ParentID makes it a root. A nil Children keeps the current children;
// any other value becomes the exact set.
type DepartmentUpdate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	ParentID    string   `json:"parentId"`
	Children    []string `json:"children"`
}

type departmentSnapshot struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ParentID    *string  `json:"parentId"`
	Children    []string `json:"children"`
}

func snapshotDepartment(d *auth.Department, children []string) departmentSnapshot {
	snap := departmentSnapshot{Name: d.Name, Description: d.Description, Children: children}
	if d.ParentID != "" {
		p := d.ParentID
		snap.ParentID = &p
	}
	if snap.Children == nil {
		snap.Children = []string{}
	}
	return snap
}

func departmentLookupError(err error) error {
	if errors.Is(err, auth.ErrNotFound) {
		return auth.NotFound("Department does not exist")
	}
	return err
}

func departmentNameError(err error) error {
	if errors.Is(err, auth.ErrAlreadyExists) {
		return auth.Invalid("name", "Department already exists")
	}
	return departmentLookupError(err)
}

// ListDepartments pages live departments ordered by name.
func (s *Service) ListDepartments(ctx context.Context, q auth.Query) (Page[auth.Department], error) {
	q = q.Normalize()
	ds, total, err := s.store.Departments(ctx).List(ctx, q)
	if err != nil {
		return Page[auth.Department]{}, err
	}
	return newPage(ds, total, q), nil
}

// GetDepartment returns a department with its direct children.
func (s *Service) GetDepartment(ctx context.Context, id string) (*auth.Department, error) {
	d, err := s.store.Departments(ctx).Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, departmentLookupError(err)
	}
	return d, nil
}

// DepartmentTree nests every live department under its parent. Departments
// whose parent is gone are roots.
func (s *Service) DepartmentTree(ctx context.Context) ([]auth.Department, error) {
	all, err := s.store.Departments(ctx).All(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(all))
	for _, d := range all {
		live[d.ID] = struct{}{}
	}
	children := make(map[string][]auth.Department)
	var roots []auth.Department
	for _, d := range all {
		if _, ok := live[d.ParentID]; ok && d.ParentID != d.ID {
			children[d.ParentID] = append(children[d.ParentID], d)
			continue
		}
		roots = append(roots, d)
	}
	var build func(d auth.Department, depth int) auth.Department
	build = func(d auth.Department, depth int) auth.Department {
		d.Children = nil
		if depth > len(all) {
			return d
		}
		for _, c := range children[d.ID] {
			d.Children = append(d.Children, build(c, depth+1))
		}
		sort.Slice(d.Children, func(i, j int) bool { return d.Children[i].Name < d.Children[j].Name })
		return d
	}
	out := make([]auth.Department, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r, 0))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateDepartment stores a department under an optional live parent.
func (s *Service) CreateDepartment(ctx context.Context, in DepartmentInput) (*auth.Department, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, auth.Invalid("name", "Department name is required")
	}
	store := s.store.Departments(ctx)
	d := &auth.Department{Name: name, Description: strings.TrimSpace(in.Description)}
	if in.ParentID != "" {
		if _, err := store.Find(ctx, in.ParentID); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return nil, auth.Invalid("parentId", "Parent department does not exist")
			}
			return nil, err
		}
		d.ParentID = in.ParentID
	}
	if err := store.Create(ctx, d); err != nil {
		return nil, departmentNameError(err)
	}
	s.history.Record(ctx, auth.SubjectDepartment, auth.ActionCreate, d.ID, nil, snapshotDepartment(d, nil))
	return d, nil
}

// UpdateDepartment edits a department, its parent and optionally its children,
// refusing any change that would make a department its own ancestor.
func (s *Service) UpdateDepartment(ctx context.Context, in DepartmentUpdate) (*auth.Department, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, auth.Invalid("name", "Department name is required")
	}
	store := s.store.Departments(ctx)
	current, err := store.Find(ctx, in.ID)
	if err != nil {
		return nil, departmentLookupError(err)
	}
	if in.ParentID != "" {
		if _, err := store.Find(ctx, in.ParentID); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return nil, auth.Invalid("parentId", "Parent department does not exist")
			}
			return nil, err
		}
	}
	var children []string
	if in.Children != nil {
		children = uniqueIDs(in.Children)
		found, err := store.FindMany(ctx, children)
		if err != nil {
			return nil, err
		}
		if len(found) != len(children) {
			return nil, auth.Invalid("children", "Some children departments do not exist")
		}
	}
	all, err := store.All(ctx)
	if err != nil {
		return nil, err
	}
	if createsCycle(all, in.ID, in.ParentID, children, in.Children != nil) {
		return nil, auth.Invalid("parentId", "Department cannot be its own ancestor")
	}

	beforeChildren := departmentIDsOf(current.Children)
	next := *current
	next.Name = name
	if in.Description != nil {
		next.Description = strings.TrimSpace(*in.Description)
	}
	next.ParentID = in.ParentID
	next.Children = nil
	if err := store.Save(ctx, &next); err != nil {
		return nil, departmentNameError(err)
	}
	afterChildren := beforeChildren
	if in.Children != nil {
		if err := store.SetChildren(ctx, next.ID, children); err != nil {
			return nil, departmentLookupError(err)
		}
		afterChildren = children
	}
	s.history.Record(ctx, auth.SubjectDepartment, auth.ActionUpdate, next.ID,
		snapshotDepartment(current, beforeChildren), snapshotDepartment(&next, afterChildren))
	return s.GetDepartment(ctx, next.ID)
}

// createsCycle applies the proposed edges to the current parent links and walks
// up from id. Every cycle the update could introduce passes through id.
func createsCycle(all []auth.Department, id, parentID string, children []string, replaceChildren bool) bool {
	parent := make(map[string]string, len(all))
	for _, d := range all {
		parent[d.ID] = d.ParentID
	}
	if replaceChildren {
		for child, p := range parent {
			if p == id {
				parent[child] = ""
			}
		}
		for _, c := range children {
			if c == id {
				return true
			}
			parent[c] = id
		}
	}
	parent[id] = parentID
	cur := parentID
	for steps := 0; cur != "" && steps <= len(parent); steps++ {
		if cur == id {
			return true
		}
		cur = parent[cur]
	}
	return cur != ""
}

// DeleteDepartment soft-deletes a department. Its children become roots of the tree.
func (s *Service) DeleteDepartment(ctx context.Context, id string) (*Result, error) {
	store := s.store.Departments(ctx)
	d, err := store.Find(ctx, id)
	if err != nil {
		return nil, departmentLookupError(err)
	}
	d.Deleted = true
	d.Children = nil
	if err := store.Save(ctx, d); err != nil {
		return nil, departmentLookupError(err)
	}
	s.history.Record(ctx, auth.SubjectDepartment, auth.ActionDelete, id,
		map[string]any{"id": d.ID, "name": d.Name, "deleted": false},
		map[string]any{"id": d.ID, "name": d.Name, "deleted": true})
	return &Result{ID: d.ID, Name: d.Name, Message: "Department deleted successfully"}, nil
}
