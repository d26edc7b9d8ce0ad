package auth

import "time"

// Mode selects how several requirements combine.
type Mode int

const (
	// Any is satisfied when at least one requirement is met.
	Any Mode = iota
	// All is satisfied only when every requirement is met.
	All
)

// Requirement is what a resource demands of the caller.
type Requirement struct {
	Subject    Subject
	Action     Action
	Attributes Attributes
}

// Require builds an unconstrained requirement.
func Require(subject Subject, action Action) Requirement {
	return Requirement{Subject: subject, Action: action}
}

// With returns a copy constrained by attrs.
func (r Requirement) With(attrs Attributes) Requirement {
	r.Attributes = attrs
	return r
}

// HasAccess evaluates required against the currently valid permissions in held.
func HasAccess(held []Permission, required []Requirement, mode Mode) bool {
	return HasAccessAt(time.Now(), held, required, mode)
}

// HasAccessAt is HasAccess with an explicit evaluation instant.
func HasAccessAt(now time.Time, held []Permission, required []Requirement, mode Mode) bool {
	active := ActivePermissions(held, now)
	for _, req := range required {
		ok := satisfied(active, req)
		if mode == All && !ok {
			return false
		}
		if mode == Any && ok {
			return true
		}
	}
	return mode == All
}

// ActivePermissions drops permissions whose expiration date is not after now.
func ActivePermissions(perms []Permission, now time.Time) []Permission {
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if p.Expired(now) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func satisfied(held []Permission, req Requirement) bool {
	for _, p := range held {
		if p.Grants(req) {
			return true
		}
	}
	return false
}

// Grants reports whether this single permission satisfies req.
func (p Permission) Grants(req Requirement) bool {
	if p.IsUniversal() {
		return true
	}
	if p.Subject != SubjectAny && p.Subject != req.Subject {
		return false
	}
	if p.Action != ActionAny && p.Action != req.Action {
		return false
	}
	if req.Attributes == nil {
		return p.Attributes == nil && !p.malformed
	}
	if p.Attributes == nil || p.malformed {
		return false
	}
	return p.Attributes.Contains(req.Attributes)
}
