package auth

import (
	"encoding/json"
	"time"
)

// UserTypePeople is the default user type.
const UserTypePeople = "PEOPLE"

// Permission is a (subject, action) grant with optional attribute constraints and expiry.
// It belongs to exactly one user or one role.
type Permission struct {
	ID             string     `json:"id,omitempty"`
	Subject        Subject    `json:"subject"`
	Action         Action     `json:"action"`
	Attributes     Attributes `json:"attributes,omitempty"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`
	UserID         string     `json:"userId,omitempty"`
	RoleID         string     `json:"roleId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`

	// set when stored attributes could not be decoded; such a permission only ever
	// matches as part of the universal grant.
	malformed bool
}

// Universal returns the */* grant.
func Universal() Permission {
	return Permission{Subject: SubjectAny, Action: ActionAny}
}

func (p Permission) IsUniversal() bool {
	return p.Subject == SubjectAny && p.Action == ActionAny
}

func (p Permission) Grant() Grant { return Grant{Subject: p.Subject, Action: p.Action} }

// Expired reports whether the permission stopped being valid at or before now.
func (p Permission) Expired(now time.Time) bool {
	return p.ExpirationDate != nil && !p.ExpirationDate.After(now)
}

// SetStoredAttributes decodes the persisted attribute column. Undecodable input
// marks the permission malformed instead of failing the load.
func (p *Permission) SetStoredAttributes(raw string) {
	attrs, err := ParseAttributes(raw)
	if err != nil {
		p.Attributes = nil
		p.malformed = true
		return
	}
	p.Attributes = attrs
	p.malformed = false
}

// StoredAttributes is the column value for Attributes; ok is false for NULL.
func (p Permission) StoredAttributes() (string, bool) {
	if p.Attributes == nil {
		return "", false
	}
	return p.Attributes.Encode(), true
}

// User is an account. Tokens holds the live session tokens, oldest first.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Email        string     `json:"email,omitempty"`
	Fullname     string     `json:"fullname,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Address      string     `json:"address,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	Birthday     *time.Time `json:"birthday,omitempty"`
	Type         string     `json:"type"`
	Active       bool       `json:"active"`
	Deleted      bool       `json:"deleted"`
	Tokens       []string   `json:"-"`
	Version      int64      `json:"-"`

	Roles       []Role       `json:"roles,omitempty"`
	Departments []Department `json:"departments,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u *User) IsDeleted() bool { return u.Deleted }

// HasToken reports whether token is one of the user's live sessions.
func (u *User) HasToken(token string) bool {
	for _, t := range u.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Tokens = append([]string(nil), u.Tokens...)
	c.Permissions = clonePermissions(u.Permissions)
	c.Departments = append([]Department(nil), u.Departments...)
	if u.Roles != nil {
		c.Roles = make([]Role, len(u.Roles))
		for i, r := range u.Roles {
			c.Roles[i] = r.Clone()
		}
	}
	if u.Birthday != nil {
		b := *u.Birthday
		c.Birthday = &b
	}
	return &c
}

// Role is a named set of permissions.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	Deleted     bool         `json:"deleted"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (r *Role) IsDeleted() bool { return r.Deleted }

func (r Role) Clone() Role {
	r.Permissions = clonePermissions(r.Permissions)
	return r
}

// Department is a node of the organisation tree.
type Department struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	ParentID    string       `json:"parentId,omitempty"`
	Children    []Department `json:"children,omitempty"`
	Deleted     bool         `json:"deleted"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (d *Department) IsDeleted() bool { return d.Deleted }

// History is an append-only audit record of one mutation.
type History struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	Action    string          `json:"action"`
	SubjectID string          `json:"subjectId"`
	UserID    string          `json:"userId,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func clonePermissions(in []Permission) []Permission {
	if in == nil {
		return nil
	}
	out := make([]Permission, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// Clone returns a copy that shares neither the attribute map nor the expiration date.
func (p Permission) Clone() Permission {
	if p.Attributes != nil {
		attrs := make(Attributes, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
		p.Attributes = attrs
	}
	if p.ExpirationDate != nil {
		e := *p.ExpirationDate
		p.ExpirationDate = &e
	}
	return p
}
