package admin

import (
	"context"

	"gatehouse.org/internal/auth"
)

// MenuItemType places an item in the UI.
type MenuItemType string

const (
	TopMenu    MenuItemType = "TOP_MENU"
	SideMenu   MenuItemType = "SIDE_MENU"
	ActionMenu MenuItemType = "ACTION_MENU"
)

// MenuItem is one navigation entry.
type MenuItem struct {
	Label    string       `json:"label"`
	Slug     string       `json:"slug"`
	Path     string       `json:"path"`
	Pattern  string       `json:"pattern,omitempty"`
	Subject  auth.Subject `json:"subject,omitempty"`
	Type     MenuItemType `json:"type"`
	Children []MenuItem   `json:"children,omitempty"`
}

type actionEntry struct {
	item   MenuItem
	action auth.Action
}

var userActions = []actionEntry{
	{MenuItem{Label: "Profile", Slug: "profile", Path: "/dashboard/users/profile"}, auth.UserUpdate},
	{MenuItem{Label: "Role", Slug: "role", Path: "/dashboard/users/role"}, auth.UserSetRole},
	{MenuItem{Label: "Permission", Slug: "permission", Path: "/dashboard/users/permission"}, auth.UserSetPermissions},
	{MenuItem{Label: "Active", Slug: "active", Path: "/dashboard/users/active"}, auth.UserSetActive},
	{MenuItem{Label: "Password", Slug: "password", Path: "/dashboard/users/password"}, auth.UserSetPassword},
	{MenuItem{Label: "Delete", Slug: "delete", Path: "/dashboard/users/delete"}, auth.UserDelete},
	{MenuItem{Label: "Rollback", Slug: "rollback", Path: "/dashboard/users/rollback"}, auth.UserDelete},
}

// Menu builds the navigation visible to the caller. Anonymous callers only see Home.
func (s *Service) Menu(ctx context.Context) []MenuItem {
	items := []MenuItem{{Label: "Home", Slug: "home", Path: "/", Pattern: "/", Type: TopMenu}}
	ac, ok := auth.AuthFromContext(ctx)
	if !ok {
		return items
	}
	if ac.Can(auth.Any, auth.SubjectActions(auth.SubjectUser)...) {
		items = append(items, MenuItem{
			Label: "Dashboard", Slug: "dashboard", Path: "/dashboard", Pattern: "/dashboard", Type: TopMenu,
			Children: []MenuItem{{Label: "Users", Slug: "users", Path: "/dashboard/users", Pattern: "/dashboard/users", Type: SideMenu}},
		})
	}
	for _, e := range userActions {
		if !ac.Can(auth.Any, auth.Require(auth.SubjectUser, e.action)) {
			continue
		}
		item := e.item
		item.Type = ActionMenu
		item.Subject = auth.SubjectUser
		item.Pattern = item.Path
		items = append(items, item)
	}
	return items
}
