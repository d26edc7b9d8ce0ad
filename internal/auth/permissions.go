package auth

import (
	"fmt"
	"strings"
)

// Subject is the resource category a permission governs.
type Subject string

// Action is an operation permitted on a subject.
type Action string

// Wildcard matches any subject or action.
const Wildcard = "*"

const (
	SubjectUser       Subject = "USER"
	SubjectRole       Subject = "ROLE"
	SubjectDepartment Subject = "DEPARTMENT"
	SubjectHistory    Subject = "HISTORY"
	SubjectFile       Subject = "FILE"
	SubjectAny        Subject = Wildcard
)

const (
	ActionCreate  Action = "CREATE"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionListing Action = "LISTING"
	ActionAny     Action = Wildcard
)

// User-specific actions; USER grants use these instead of the generic actions.
const (
	UserListing            Action = "USER_LISTING"
	UserUpdate             Action = "USER_UPDATE"
	UserDelete             Action = "USER_DELETE"
	UserSetRole            Action = "USER_SET_ROLE"
	UserSetRolePermissions Action = "USER_SET_ROLE_PERMISSIONS"
	UserSetPermissions     Action = "USER_SET_PERMISSIONS"
	UserSetActive          Action = "USER_SET_ACTIVE"
	UserSetPassword        Action = "USER_SET_PASSWORD"
	UserSetDepartment      Action = "USER_SET_DEPARTMENT"
	UserChangePassword     Action = "USER_CHANGE_PASSWORD"
)

var (
	SubjectTypes    = []Subject{SubjectUser, SubjectRole, SubjectDepartment, SubjectHistory, SubjectFile}
	ActionTypes     = []Action{ActionCreate, ActionUpdate, ActionDelete, ActionListing}
	UserActionTypes = []Action{
		UserListing, UserUpdate, UserDelete, UserSetRole, UserSetRolePermissions,
		UserSetPermissions, UserSetActive, UserSetPassword, UserSetDepartment, UserChangePassword,
	}
)

// Grant is a (subject, action) pair from the permission vocabulary.
type Grant struct {
	Subject Subject `json:"subject"`
	Action  Action  `json:"action"`
}

func (g Grant) String() string { return string(g.Subject) + ", " + string(g.Action) }

var catalog = buildCatalog()

func buildCatalog() []Grant {
	out := make([]Grant, 0, len(UserActionTypes)+(len(SubjectTypes)-1)*len(ActionTypes))
	for _, a := range UserActionTypes {
		out = append(out, Grant{Subject: SubjectUser, Action: a})
	}
	for _, s := range SubjectTypes {
		if s == SubjectUser {
			continue
		}
		for _, a := range ActionTypes {
			out = append(out, Grant{Subject: s, Action: a})
		}
	}
	return out
}

// Catalog enumerates every grantable permission.
func Catalog() []Grant {
	out := make([]Grant, len(catalog))
	copy(out, catalog)
	return out
}

// Grantable reports whether g belongs to the catalog.
func Grantable(g Grant) bool {
	for _, c := range catalog {
		if c == g {
			return true
		}
	}
	return false
}

// ValidatePermissionGrant rejects every grant outside the catalog, listing all offenders.
func ValidatePermissionGrant(grants ...Grant) error {
	var (
		fields  []FieldError
		invalid []string
	)
	for i, g := range grants {
		if Grantable(g) {
			continue
		}
		fields = append(fields, FieldError{Field: fmt.Sprintf("permissions[%d]", i), Message: g.String()})
		invalid = append(invalid, g.String())
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{
		Message: "Invalid permissions: " + strings.Join(invalid, ";"),
		Fields:  fields,
	}
}

// SubjectActions returns every requirement on subject, for "any action on X" checks.
func SubjectActions(subject Subject) []Requirement {
	actions := ActionTypes
	if subject == SubjectUser {
		actions = UserActionTypes
	}
	out := make([]Requirement, 0, len(actions))
	for _, a := range actions {
		out = append(out, Require(subject, a))
	}
	return out
}
