package testutil

import (
	"context"

	"okm-go/internal/okm"
)

// AdminRole is the admin role used by test sessions.
const AdminRole = "ROLE_ADMIN"

// AdminContext returns a context whose session holds the admin role.
func AdminContext() context.Context {
	return UserContext("okmAdmin", AdminRole, "ROLE_USER")
}

// UserContext returns a context carrying a session for user with roles.
func UserContext(user string, roles ...string) context.Context {
	return okm.WithSession(context.Background(), &okm.Session{
		User:      user,
		Roles:     roles,
		AdminRole: AdminRole,
	})
}
