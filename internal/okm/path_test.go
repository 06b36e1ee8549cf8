package okm

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"/okm:root", "/okm:root", false},
		{"/okm:root/", "/okm:root", false},
		{"/okm:root//a/./b", "/okm:root/a/b", false},
		{"/okm:root/a/../b", "/okm:root/b", false},
		{"/okm:root/..", "", true},
		{"/okm:rootx/a", "", true},
		{"/other", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrPathNotFound) {
					t.Errorf("CleanPath(%q) error = %v, want ErrPathNotFound", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("CleanPath(%q) = %q, %v, want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestPathHelpers(t *testing.T) {
	if got := JoinPath("/okm:root", "a.txt"); got != "/okm:root/a.txt" {
		t.Errorf("JoinPath() = %q", got)
	}
	if got := JoinPath("/okm:root/", "a.txt"); got != "/okm:root/a.txt" {
		t.Errorf("JoinPath() with trailing slash = %q", got)
	}
	if got := ParentPath("/okm:root/a/b.txt"); got != "/okm:root/a" {
		t.Errorf("ParentPath() = %q", got)
	}
	if got := BaseName("/okm:root/a/b.txt"); got != "b.txt" {
		t.Errorf("BaseName() = %q", got)
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b"} {
		if err := ValidateName(name); !errors.Is(err, ErrRepository) {
			t.Errorf("ValidateName(%q) error = %v, want ErrRepository", name, err)
		}
	}
	for _, name := range []string{"a.txt", "report#v1.0#", "with space"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) error = %v", name, err)
		}
	}
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		current string
		want    string
	}{
		{"", "1.0"},
		{"1.0", "1.1"},
		{"1.9", "1.10"},
		{"2.3.4", "2.3.5"},
		{"3", "3.1"},
		{"1.beta", "1.beta.1"},
	}
	for _, tt := range tests {
		if got := NextVersion(tt.current); got != tt.want {
			t.Errorf("NextVersion(%q) = %q, want %q", tt.current, got, tt.want)
		}
	}
}

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return "id-" + strconv.Itoa(s.n)
}

func TestApplyCreateDefaults(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	parent := &Node{Path: RootPath, RolePermissions: Grants{"ROLE_USER": PermRead}}
	sess := &Session{User: "alice"}

	n := &Node{Path: "/okm:root//docs/", UUID: "ignored", Author: "ignored"}
	if err := ApplyCreateDefaults(n, parent, sess, now, &seqIDs{}); err != nil {
		t.Fatalf("ApplyCreateDefaults() error = %v", err)
	}
	if n.Path != "/okm:root/docs" || n.Name != "docs" {
		t.Errorf("path = %q name = %q", n.Path, n.Name)
	}
	if n.UUID != "id-1" || n.Author != "alice" || !n.Created.Equal(now) {
		t.Errorf("defaults = %s %s %v", n.UUID, n.Author, n.Created)
	}
	if !n.RolePermissions.Equal(parent.RolePermissions) {
		t.Errorf("RolePermissions = %v", n.RolePermissions)
	}
	n.RolePermissions.Grant("ROLE_USER", PermWrite)
	if parent.RolePermissions["ROLE_USER"] != PermRead {
		t.Error("inherited grants share the parent's map")
	}

	root := &Node{Path: RootPath}
	if err := ApplyCreateDefaults(root, parent, sess, now, &seqIDs{}); !errors.Is(err, ErrItemExists) {
		t.Errorf("ApplyCreateDefaults(root) error = %v, want ErrItemExists", err)
	}
}

func TestApplyRestoreDefaults(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	created := time.Date(2010, 5, 1, 0, 0, 0, 0, time.UTC)
	parent := &Node{
		Path:            RootPath,
		UserPermissions: Grants{"owner": PermAll},
		RolePermissions: Grants{"ROLE_USER": PermRead},
	}
	sess := &Session{User: "okmAdmin"}

	tests := []struct {
		name      string
		node      Node
		wantUUID  string
		wantUser  string
		wantRoles Grants
		wantErr   error
	}{
		{
			name:      "empty snapshot",
			node:      Node{Path: "/okm:root/a"},
			wantUUID:  "id-1",
			wantUser:  "okmAdmin",
			wantRoles: Grants{"ROLE_USER": PermRead},
		},
		{
			name:      "recorded values kept",
			node:      Node{Path: "/okm:root/a", UUID: "u-9", Author: "john", Created: created, UserPermissions: Grants{"john": PermRead}},
			wantUUID:  "u-9",
			wantUser:  "john",
			wantRoles: Grants{},
		},
		{
			name:    "invalid role permission",
			node:    Node{Path: "/okm:root/a", RolePermissions: Grants{"ROLE_X": 64}},
			wantErr: ErrMalformedMetadata,
		},
		{
			name:    "outside root",
			node:    Node{Path: "/elsewhere/a"},
			wantErr: ErrPathNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.node
			err := ApplyRestoreDefaults(&n, parent, sess, now, &seqIDs{})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ApplyRestoreDefaults() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyRestoreDefaults() error = %v", err)
			}
			if n.UUID != tt.wantUUID || n.Author != tt.wantUser {
				t.Errorf("UUID/Author = %s/%s, want %s/%s", n.UUID, n.Author, tt.wantUUID, tt.wantUser)
			}
			if !n.RolePermissions.Equal(tt.wantRoles) {
				t.Errorf("RolePermissions = %v, want %v", n.RolePermissions, tt.wantRoles)
			}
			if tt.node.Created.IsZero() && !n.Created.Equal(now) {
				t.Errorf("Created = %v, want %v", n.Created, now)
			}
		})
	}
}

func TestSessionFrom(t *testing.T) {
	if _, err := SessionFrom(context.Background()); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("SessionFrom(empty) error = %v, want ErrNotAuthorized", err)
	}

	sess := &Session{User: "alice", Roles: []string{"ROLE_ADMIN"}, AdminRole: "ROLE_ADMIN"}
	got, err := SessionFrom(WithSession(context.Background(), sess))
	if err != nil || got != sess {
		t.Fatalf("SessionFrom() = %v, %v", got, err)
	}
	if !got.IsAdmin() {
		t.Error("IsAdmin() = false, want true")
	}
}
