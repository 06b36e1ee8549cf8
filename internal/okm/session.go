package okm

import (
	"context"
	"slices"
)

// Session identifies the user on whose behalf repository calls run.
type Session struct {
	User      string
	Roles     []string
	AdminRole string
}

// IsAdmin reports whether the session carries the configured admin role.
func (s *Session) IsAdmin() bool {
	return s.AdminRole != "" && slices.Contains(s.Roles, s.AdminRole)
}

type sessionKey struct{}

// WithSession returns a context carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFrom returns the session stored in ctx, or ErrNotAuthorized.
func SessionFrom(ctx context.Context) (*Session, error) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || sess == nil {
		return nil, ErrNotAuthorized
	}
	return sess, nil
}
