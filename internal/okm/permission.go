package okm

import (
	"maps"
	"sort"
	"strings"
)

// Permission is a bitmask of the rights a principal holds on a node.
type Permission int

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermDelete
	PermSecurity

	PermNone Permission = 0
	PermAll             = PermRead | PermWrite | PermDelete | PermSecurity
)

// Has reports whether every bit of want is set.
func (p Permission) Has(want Permission) bool {
	return p&want == want
}

// Valid reports whether p only uses known bits.
func (p Permission) Valid() bool {
	return p >= 0 && p&^PermAll == 0
}

func (p Permission) String() string {
	if p == PermNone {
		return "none"
	}
	var parts []string
	for _, b := range []struct {
		bit  Permission
		name string
	}{{PermRead, "read"}, {PermWrite, "write"}, {PermDelete, "delete"}, {PermSecurity, "security"}} {
		if p.Has(b.bit) {
			parts = append(parts, b.name)
		}
	}
	return strings.Join(parts, "|")
}

// Grants maps a principal (user or role name) to its permission bits.
// There is at most one entry per principal.
type Grants map[string]Permission

// Grant ORs perm into the principal's existing bits.
func (g Grants) Grant(principal string, perm Permission) {
	g[principal] |= perm
}

// Clone returns an independent copy. A nil map clones to an empty one.
func (g Grants) Clone() Grants {
	out := make(Grants, len(g))
	maps.Copy(out, g)
	return out
}

// Principals returns the principal names in sorted order.
func (g Grants) Principals() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both maps hold the same principals with the same bits.
func (g Grants) Equal(other Grants) bool {
	return maps.Equal(g, other)
}

// Effective returns the bits the session holds on a node with the given grants.
func Effective(sess *Session, users, roles Grants) Permission {
	if sess.IsAdmin() {
		return PermAll
	}
	perm := users[sess.User]
	for _, role := range sess.Roles {
		perm |= roles[role]
	}
	return perm
}

// CheckAccess returns ErrAccessDenied unless the session holds want on n.
func CheckAccess(sess *Session, n *Node, want Permission) error {
	if !Effective(sess, n.UserPermissions, n.RolePermissions).Has(want) {
		return &AccessError{Path: n.Path, User: sess.User, Want: want}
	}
	return nil
}

// AccessError describes a denied permission check.
type AccessError struct {
	Path string
	User string
	Want Permission
}

func (e *AccessError) Error() string {
	return "access denied: " + e.User + " lacks " + e.Want.String() + " on " + e.Path
}

func (e *AccessError) Is(target error) bool { return target == ErrAccessDenied }
