package okm

import (
	"fmt"
	"time"
)

// ApplyCreateDefaults fills n as a plain API creation below parent: a fresh
// UUID, the session user as author, now as creation time and the parent's
// grants. Values already present on n are overwritten.
func ApplyCreateDefaults(n *Node, parent *Node, sess *Session, now time.Time, ids IDGenerator) error {
	if err := prepareName(n); err != nil {
		return err
	}
	n.UUID = ids.New()
	n.Author = sess.User
	n.Created = now
	n.UserPermissions = parent.UserPermissions.Clone()
	n.RolePermissions = parent.RolePermissions.Clone()
	return nil
}

// ApplyRestoreDefaults fills only what a metadata snapshot left empty.
// Empty grant maps inherit the parent's current grants.
func ApplyRestoreDefaults(n *Node, parent *Node, sess *Session, now time.Time, ids IDGenerator) error {
	if err := prepareName(n); err != nil {
		return err
	}
	if n.UUID == "" {
		n.UUID = ids.New()
	}
	if n.Author == "" {
		n.Author = sess.User
	}
	if n.Created.IsZero() {
		n.Created = now
	}
	if len(n.UserPermissions) == 0 && len(n.RolePermissions) == 0 {
		n.UserPermissions = parent.UserPermissions.Clone()
		n.RolePermissions = parent.RolePermissions.Clone()
	}
	if n.UserPermissions == nil {
		n.UserPermissions = Grants{}
	}
	if n.RolePermissions == nil {
		n.RolePermissions = Grants{}
	}
	for principal, perm := range n.UserPermissions {
		if !perm.Valid() {
			return fmt.Errorf("user %s has invalid permission %d: %w", principal, perm, ErrMalformedMetadata)
		}
	}
	for principal, perm := range n.RolePermissions {
		if !perm.Valid() {
			return fmt.Errorf("role %s has invalid permission %d: %w", principal, perm, ErrMalformedMetadata)
		}
	}
	return nil
}

func prepareName(n *Node) error {
	p, err := CleanPath(n.Path)
	if err != nil {
		return err
	}
	if p == RootPath {
		return fmt.Errorf("cannot create %s: %w", RootPath, ErrItemExists)
	}
	n.Path = p
	n.Name = BaseName(p)
	return ValidateName(n.Name)
}
