package database

import (
	"errors"
	"strings"
	"testing"
	"time"

	"okm-go/internal/impexp"
	"okm-go/internal/okm"
)

func folderMeta(path string, users map[string]okm.Permission) *impexp.FolderMetadata {
	return &impexp.FolderMetadata{NodeMetadata: impexp.NodeMetadata{Path: path, GrantedUsers: users}}
}

func TestSQLiteDatabase_ImportFolder(t *testing.T) {
	created := time.Date(2019, 5, 4, 12, 0, 0, 0, time.UTC)

	t.Run("restores recorded attributes", func(t *testing.T) {
		db, _ := newTestDB(t, nil)
		ctx := adminContext()

		meta := &impexp.FolderMetadata{NodeMetadata: impexp.NodeMetadata{
			UUID:         "f-1",
			Path:         "/okm:root/archive",
			Author:       "john",
			Created:      created,
			Keywords:     []string{"old", "archive"},
			Categories:   []string{"/okm:categories/legal"},
			Subscriptors: []string{"mary"},
			Notes:        []impexp.NoteMetadata{{Author: "mary", Date: created, Text: "checked"}},
			GrantedRoles: map[string]okm.Permission{"ROLE_AUDIT": okm.PermRead},
			PropertyGroups: []impexp.PropertyGroupMetadata{
				{Name: "okg:review", Properties: map[string]string{"okp:review.state": "done"}},
			},
		}}
		if _, err := db.ImportFolder(ctx, meta); err != nil {
			t.Fatalf("ImportFolder() error = %v", err)
		}

		got, err := db.GetFolder(ctx, "/okm:root/archive")
		if err != nil {
			t.Fatalf("GetFolder() error = %v", err)
		}
		if got.UUID != "f-1" || got.Author != "john" || !got.Created.Equal(created) {
			t.Errorf("GetFolder() = %s %s %v, want f-1 john %v", got.UUID, got.Author, got.Created, created)
		}
		if strings.Join(got.Keywords, ",") != "archive,old" {
			t.Errorf("Keywords = %v, want [archive old]", got.Keywords)
		}
		if len(got.Categories) != 1 || len(got.Subscriptors) != 1 {
			t.Errorf("Categories = %v, Subscriptors = %v", got.Categories, got.Subscriptors)
		}
		if len(got.Notes) != 1 || got.Notes[0].Text != "checked" || got.Notes[0].Author != "mary" {
			t.Errorf("Notes = %+v", got.Notes)
		}
		if !got.RolePermissions.Equal(okm.Grants{"ROLE_AUDIT": okm.PermRead}) {
			t.Errorf("RolePermissions = %v, want ROLE_AUDIT read", got.RolePermissions)
		}
		if len(got.PropertyGroups) != 1 || got.PropertyGroups[0].Properties["okp:review.state"] != "done" {
			t.Errorf("PropertyGroups = %+v", got.PropertyGroups)
		}
	})

	t.Run("empty grants inherit from parent", func(t *testing.T) {
		db, _ := newTestDB(t, nil)
		ctx := sessionContext("alice", "ROLE_USER")

		f, err := db.ImportFolder(ctx, folderMeta("/okm:root/plain", nil))
		if err != nil {
			t.Fatalf("ImportFolder() error = %v", err)
		}
		if f.Author != "alice" {
			t.Errorf("Author = %q, want session user", f.Author)
		}
		if !f.RolePermissions.Equal(userRoot) {
			t.Errorf("RolePermissions = %v, want %v", f.RolePermissions, userRoot)
		}
	})

	tests := []struct {
		name    string
		meta    *impexp.FolderMetadata
		wantErr error
	}{
		{"same path", folderMeta("/okm:root/taken", nil), okm.ErrItemExists},
		{
			name:    "same uuid",
			meta:    &impexp.FolderMetadata{NodeMetadata: impexp.NodeMetadata{UUID: "taken-uuid", Path: "/okm:root/other"}},
			wantErr: okm.ErrItemExists,
		},
		{"invalid permission", folderMeta("/okm:root/bad", map[string]okm.Permission{"x": 99}), okm.ErrMalformedMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _ := newTestDB(t, nil)
			ctx := adminContext()
			taken := &impexp.FolderMetadata{NodeMetadata: impexp.NodeMetadata{UUID: "taken-uuid", Path: "/okm:root/taken"}}
			if _, err := db.ImportFolder(ctx, taken); err != nil {
				t.Fatalf("ImportFolder() error = %v", err)
			}

			_, err := db.ImportFolder(ctx, tt.meta)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ImportFolder() error = %v, want %v", err, tt.wantErr)
			}

			children, err := db.GetChildren(ctx, okm.RootPath)
			if err != nil {
				t.Fatalf("GetChildren() error = %v", err)
			}
			if len(children) != 1 {
				t.Errorf("root has %d children after failed import, want 1", len(children))
			}
		})
	}
}

func TestSQLiteDatabase_ImportDocument(t *testing.T) {
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	const path = "/okm:root/report.txt"

	db, _ := newTestDB(t, nil)
	ctx := adminContext()

	meta := &impexp.DocumentMetadata{
		NodeMetadata: impexp.NodeMetadata{Path: path, Author: "john", Created: created},
		Title:        "Report",
		Language:     "en",
		Version:      impexp.VersionMetadata{Name: "2.3", Author: "john", Created: created, Comment: "imported"},
	}
	doc, err := db.ImportDocument(ctx, meta, strings.NewReader("v23"))
	if err != nil {
		t.Fatalf("ImportDocument() error = %v", err)
	}
	if doc.ActualVersion.Name != "2.3" || doc.ActualVersion.Author != "john" || doc.ActualVersion.Comment != "imported" {
		t.Errorf("ActualVersion = %+v", doc.ActualVersion)
	}
	if doc.Title != "Report" || doc.Language != "en" {
		t.Errorf("Title/Language = %q/%q", doc.Title, doc.Language)
	}

	t.Run("recorded version name", func(t *testing.T) {
		v, err := db.ImportVersion(ctx, path, &impexp.VersionMetadata{Name: "2.4", Author: "mary"}, strings.NewReader("v24"))
		if err != nil {
			t.Fatalf("ImportVersion() error = %v", err)
		}
		if v.Name != "2.4" || v.Author != "mary" {
			t.Errorf("ImportVersion() = %s by %s, want 2.4 by mary", v.Name, v.Author)
		}
	})

	t.Run("next minor version without a name", func(t *testing.T) {
		v, err := db.ImportVersion(ctx, path, &impexp.VersionMetadata{}, strings.NewReader("v25"))
		if err != nil {
			t.Fatalf("ImportVersion() error = %v", err)
		}
		if v.Name != "2.5" || v.Author != "okmAdmin" {
			t.Errorf("ImportVersion() = %s by %s, want 2.5 by okmAdmin", v.Name, v.Author)
		}
	})

	t.Run("duplicate version name", func(t *testing.T) {
		_, err := db.ImportVersion(ctx, path, &impexp.VersionMetadata{Name: "2.3"}, strings.NewReader("again"))
		if !errors.Is(err, okm.ErrVersion) {
			t.Errorf("ImportVersion() error = %v, want ErrVersion", err)
		}
	})

	history, err := db.GetVersionHistory(ctx, path)
	if err != nil {
		t.Fatalf("GetVersionHistory() error = %v", err)
	}
	var names []string
	for _, v := range history {
		names = append(names, v.Name)
	}
	if strings.Join(names, ",") != "2.3,2.4,2.5" {
		t.Errorf("GetVersionHistory() = %v, want [2.3 2.4 2.5]", names)
	}
}

func TestSQLiteDatabase_ImportMail(t *testing.T) {
	db, _ := newTestDB(t, nil)
	ctx := adminContext()
	sent := time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC)

	meta := &impexp.MailMetadata{
		NodeMetadata: impexp.NodeMetadata{Path: "/okm:root/mail", UUID: "m-1"},
		From:         "a@example.com",
		Reply:        []string{"r@example.com"},
		Subject:      "Quarterly",
		SentDate:     sent,
	}
	if _, err := db.ImportMail(ctx, meta, strings.NewReader("Subject: Quarterly\r\n\r\nbody")); err != nil {
		t.Fatalf("ImportMail() error = %v", err)
	}

	got, err := db.GetMail(ctx, "/okm:root/mail")
	if err != nil {
		t.Fatalf("GetMail() error = %v", err)
	}
	if got.UUID != "m-1" || got.Subject != "Quarterly" || !got.SentDate.Equal(sent) {
		t.Errorf("GetMail() = %s %q %v", got.UUID, got.Subject, got.SentDate)
	}
	if len(got.ReplyTo) != 1 || got.ReplyTo[0] != "r@example.com" {
		t.Errorf("ReplyTo = %v", got.ReplyTo)
	}
}
