package impexp_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"okm-go/internal/impexp"
	"okm-go/internal/okm"
	"okm-go/internal/testutil"
)

const testMail = "From: ana@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: report\r\n" +
	"Content-Type: multipart/mixed; boundary=B\r\n" +
	"\r\n" +
	"--B\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"attached\r\n" +
	"--B\r\n" +
	"Content-Type: text/plain; name=\"q1.txt\"\r\n" +
	"\r\n" +
	"numbers\r\n" +
	"--B--\r\n"

func newImporter(b testutil.Backend) *impexp.RepositoryImporter {
	return impexp.NewRepositoryImporter(b, b, nil, "", okm.NewNopLogger())
}

func content(t *testing.T, b testutil.Backend, path string) string {
	t.Helper()
	var buf bytes.Buffer
	if _, err := b.GetContent(testutil.AdminContext(), path, &buf); err != nil {
		t.Fatalf("GetContent(%s) error = %v", path, err)
	}
	return buf.String()
}

func lines(s string) int {
	return strings.Count(s, "\n")
}

func TestRepositoryImporter_ImportDocuments(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{
				"a.txt":       "hello",
				"docs/b.txt":  "abcd",
				"docs/sub/":   "",
				"scratch.tmp": "skip me",
				".okmignore":  "*.tmp\n",
			})

			var out bytes.Buffer
			stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &out, impexp.TextInfoDecorator{Base: src})
			if err != nil {
				t.Fatalf("ImportDocuments() error = %v", err)
			}

			want := impexp.ImpExpStats{Documents: 2, Folders: 2, Size: 9, OK: true}
			if stats != want {
				t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
			}
			if !strings.Contains(out.String(), filepath.Join("docs", "b.txt")+" (4 B)\n") {
				t.Errorf("output = %q", out.String())
			}
			if lines(out.String()) != stats.Nodes() {
				t.Errorf("printed %d lines for %d nodes", lines(out.String()), stats.Nodes())
			}
			if got := content(t, b, "/okm:root/docs/b.txt"); got != "abcd" {
				t.Errorf("content = %q, want abcd", got)
			}
			if _, err := b.GetNode(ctx, "/okm:root/scratch.tmp"); !errors.Is(err, okm.ErrPathNotFound) {
				t.Errorf("ignored file was imported: %v", err)
			}

			out.Reset()
			again, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &out, nil)
			if err != nil {
				t.Fatalf("second ImportDocuments() error = %v", err)
			}
			if again.OK {
				t.Error("second import OK = true, want false")
			}
			if again.Documents != stats.Documents || again.Folders != stats.Folders || again.Mails != stats.Mails {
				t.Errorf("second import = %+v, want counts of %+v", again, stats)
			}
			if strings.Count(out.String(), "[ERROR ItemExists]") != stats.Nodes() {
				t.Errorf("second import output = %q", out.String())
			}
		})
	}
}

func TestRepositoryImporter_ExistingFolderContinues(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()

			if _, err := b.CreateFolder(ctx, &okm.Folder{Node: okm.Node{Path: "/okm:root/docs"}}); err != nil {
				t.Fatalf("CreateFolder() error = %v", err)
			}

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{
				"docs/inner.txt": "in",
				"z.txt":          "zz",
			})

			stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &bytes.Buffer{}, nil)
			if err != nil {
				t.Fatalf("ImportDocuments() error = %v", err)
			}
			want := impexp.ImpExpStats{Documents: 2, Folders: 1, Size: 4, OK: false}
			if stats != want {
				t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
			}
			if got := content(t, b, "/okm:root/z.txt"); got != "zz" {
				t.Errorf("next sibling content = %q", got)
			}
			if got := content(t, b, "/okm:root/docs/inner.txt"); got != "in" {
				t.Errorf("subtree of existing folder content = %q", got)
			}
		})
	}
}

func TestRepositoryImporter_History(t *testing.T) {
	tree := map[string]string{
		"r.txt":        "three",
		"r.txt#v1.0#":  "one",
		"r.txt#v1.2#":  "two",
		"r.txt#v1.10#": "three",
	}

	tests := []struct {
		name         string
		opts         impexp.ImportOptions
		wantSize     int64
		wantVersions []string
	}{
		{"history restored", impexp.ImportOptions{RestoreHistory: true}, 11, []string{"1.0", "1.1", "1.2"}},
		{"history ignored", impexp.ImportOptions{}, 5, []string{"1.0"}},
	}
	for _, bf := range testutil.Backends() {
		for _, tt := range tests {
			t.Run(bf.Name+"/"+tt.name, func(t *testing.T) {
				b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
				ctx := testutil.AdminContext()

				src := t.TempDir()
				testutil.WriteTree(t, src, tree)

				stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, tt.opts, &bytes.Buffer{}, nil)
				if err != nil {
					t.Fatalf("ImportDocuments() error = %v", err)
				}
				want := impexp.ImpExpStats{Documents: 1, Size: tt.wantSize, OK: true}
				if stats != want {
					t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
				}

				history, err := b.GetVersionHistory(ctx, "/okm:root/r.txt")
				if err != nil {
					t.Fatalf("GetVersionHistory() error = %v", err)
				}
				var names []string
				for _, v := range history {
					names = append(names, v.Name)
				}
				if strings.Join(names, ",") != strings.Join(tt.wantVersions, ",") {
					t.Errorf("versions = %v, want %v", names, tt.wantVersions)
				}
				if got := content(t, b, "/okm:root/r.txt"); got != "three" {
					t.Errorf("current content = %q, want three", got)
				}
			})
		}
	}
}

func TestRepositoryImporter_Metadata(t *testing.T) {
	created := time.Date(2010, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{
				"a.txt": "hello",
				"a.txt.json": `{
					"uuid": "2f9d7c1e",
					"path": "/okm:root/elsewhere/a.txt",
					"author": "john",
					"created": "2010-05-01T00:00:00Z",
					"keywords": ["finance"],
					"title": "Greeting",
					"version": {"name": "1.3", "author": "mary", "size": 5}
				}`,
				"shared/":      "",
				"shared.json":  `{"path": "/okm:root/shared", "grantedUsers": {"john": 15}}`,
				"broken/":      "",
				"broken.json":  `{not json`,
				"broken/c.txt": "c",
				"bad.txt":      "bad",
				"bad.txt.json": `{"path": "/okm:root/bad.txt", "grantedRoles": {"ROLE_USER": 99}, "version": {"size": 3}}`,
			})

			opts := impexp.ImportOptions{UseMetadata: true, RestoreUUID: true}
			var out bytes.Buffer
			stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, opts, &out, nil)
			if err != nil {
				t.Fatalf("ImportDocuments() error = %v", err)
			}
			want := impexp.ImpExpStats{Documents: 3, Folders: 2, Size: 6, OK: false}
			if stats != want {
				t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
			}
			if strings.Count(out.String(), "[ERROR MalformedMetadata]") != 2 {
				t.Errorf("output = %q", out.String())
			}

			doc, err := b.GetDocument(ctx, "/okm:root/a.txt")
			if err != nil {
				t.Fatalf("GetDocument() error = %v", err)
			}
			if doc.UUID != "2f9d7c1e" || doc.Author != "john" || !doc.Created.Equal(created) || doc.Title != "Greeting" {
				t.Errorf("GetDocument() = %+v", doc)
			}
			if doc.ActualVersion.Name != "1.3" || doc.ActualVersion.Author != "mary" {
				t.Errorf("ActualVersion = %+v", doc.ActualVersion)
			}

			root, err := b.GetNode(ctx, okm.RootPath)
			if err != nil {
				t.Fatalf("GetNode(root) error = %v", err)
			}
			if !doc.RolePermissions.Equal(root.RolePermissions) || !doc.UserPermissions.Equal(root.UserPermissions) {
				t.Errorf("grants = %v %v, want parent's %v %v", doc.UserPermissions, doc.RolePermissions, root.UserPermissions, root.RolePermissions)
			}

			shared, err := b.GetFolder(ctx, "/okm:root/shared")
			if err != nil {
				t.Fatalf("GetFolder() error = %v", err)
			}
			if !shared.UserPermissions.Equal(okm.Grants{"john": okm.PermAll}) {
				t.Errorf("UserPermissions = %v", shared.UserPermissions)
			}

			if got := content(t, b, "/okm:root/broken/c.txt"); got != "c" {
				t.Errorf("content below malformed folder sidecar = %q", got)
			}
			if _, err := b.GetNode(ctx, "/okm:root/bad.txt"); !errors.Is(err, okm.ErrPathNotFound) {
				t.Errorf("document with malformed sidecar exists: %v", err)
			}
		})
	}
}

func TestRepositoryImporter_Mail(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{"inbox/report.eml": testMail})

			stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &bytes.Buffer{}, nil)
			if err != nil {
				t.Fatalf("ImportDocuments() error = %v", err)
			}
			want := impexp.ImpExpStats{Documents: 1, Folders: 1, Mails: 1, Size: int64(len(testMail) + 7), OK: true}
			if stats != want {
				t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
			}

			checked, err := b.CheckDocuments(ctx, okm.RootPath, false, &bytes.Buffer{}, nil)
			if err != nil {
				t.Fatalf("CheckDocuments() error = %v", err)
			}
			if checked != want {
				t.Errorf("CheckDocuments() = %+v, import counted %+v", checked, want)
			}

			ml, err := b.GetMail(ctx, "/okm:root/inbox/report")
			if err != nil {
				t.Fatalf("GetMail() error = %v", err)
			}
			if ml.Subject != "report" || ml.Content != "attached" || len(ml.To) != 1 {
				t.Errorf("GetMail() = %+v", ml)
			}
			if got := content(t, b, ml.Path); got != testMail {
				t.Errorf("original message not kept: %q", got)
			}

			children, err := b.GetChildren(ctx, ml.Path)
			if err != nil {
				t.Fatalf("GetChildren() error = %v", err)
			}
			if len(children) != 1 || children[0].Name != "q1.txt" {
				t.Fatalf("attachments = %v", children)
			}
			if got := content(t, b, children[0].Path); got != "numbers" {
				t.Errorf("attachment content = %q", got)
			}
		})
	}
}

const twoAttachments = "From: ana@example.com\r\n" +
	"Subject: sizes\r\n" +
	"Content-Type: multipart/mixed; boundary=B\r\n" +
	"\r\n" +
	"--B\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"two files\r\n" +
	"--B\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Disposition: attachment; filename=\"big.txt\"\r\n" +
	"\r\n" +
	"0123456789abcdef\r\n" +
	"--B\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Disposition: attachment; filename=\"ok.txt\"\r\n" +
	"\r\n" +
	"ok\r\n" +
	"--B--\r\n"

func TestRepositoryImporter_MailAttachmentFailure(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			opts := testutil.NewTestStoreOptions(testutil.NewTestVault())
			opts.Policy = &okm.UploadPolicy{MaxFileSize: 8}
			b := bf.Open(t, opts)
			ctx := testutil.AdminContext()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{"m.eml": twoAttachments})

			var out bytes.Buffer
			stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &out, impexp.TextInfoDecorator{Base: src})
			if err != nil {
				t.Fatalf("ImportDocuments() error = %v", err)
			}
			want := impexp.ImpExpStats{Documents: 2, Mails: 1, Size: int64(len(twoAttachments) + 2), OK: false}
			if stats != want {
				t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
			}
			if !strings.Contains(out.String(), filepath.Join("m.eml", "big.txt")+" (0 B) [ERROR FileSizeExceeded]\n") ||
				!strings.Contains(out.String(), filepath.Join("m.eml", "ok.txt")+" (2 B)\n") {
				t.Errorf("output = %q", out.String())
			}
			if got := content(t, b, "/okm:root/m/ok.txt"); got != "ok" {
				t.Errorf("attachment after the failing one = %q", got)
			}

			// The mail exists now; a second import only adds what is missing.
			out.Reset()
			again, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &out, nil)
			if err != nil {
				t.Fatalf("second ImportDocuments() error = %v", err)
			}
			if again.Mails != 1 || again.Documents != 2 || again.OK {
				t.Errorf("second import = %+v", again)
			}
			if strings.Count(out.String(), "[ERROR ItemExists]") != 2 {
				t.Errorf("second import output = %q", out.String())
			}
		})
	}
}

func TestRepositoryImporter_EmptyNames(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{
				".eml":  testMail,
				"#":     "hash",
				"z.txt": "z",
			})

			var out bytes.Buffer
			stats, err := newImporter(b).ImportDocuments(ctx, src, okm.RootPath, impexp.ImportOptions{}, &out, impexp.TextInfoDecorator{Base: src})
			if err != nil {
				t.Fatalf("ImportDocuments() error = %v", err)
			}
			want := impexp.ImpExpStats{Documents: 2, Mails: 1, Size: 1, OK: false}
			if stats != want {
				t.Errorf("ImportDocuments() = %+v, want %+v", stats, want)
			}
			for _, line := range []string{".eml (0 B) [ERROR MalformedMetadata]\n", "# (0 B) [ERROR MalformedMetadata]\n", "z.txt (1 B)\n"} {
				if !strings.Contains(out.String(), line) {
					t.Errorf("missing %q in %q", line, out.String())
				}
			}
			if strings.Contains(out.String(), "ItemExists") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func TestRepositoryImporter_Fatal(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()

			src := t.TempDir()
			testutil.WriteTree(t, src, map[string]string{"a.txt": "a", "b.txt": "b"})
			if _, err := b.CreateDocument(ctx, &okm.Document{Node: okm.Node{Path: "/okm:root/doc"}}, strings.NewReader("x")); err != nil {
				t.Fatalf("CreateDocument() error = %v", err)
			}

			tests := []struct {
				name    string
				ctx     context.Context
				src     string
				dest    string
				wantErr error
			}{
				{"missing source", ctx, filepath.Join(src, "nope"), okm.RootPath, okm.ErrFileNotFound},
				{"missing destination", ctx, src, "/okm:root/nope", okm.ErrPathNotFound},
				{"document destination", ctx, src, "/okm:root/doc", okm.ErrPathNotFound},
				{"no write access", testutil.UserContext("eve", "ROLE_GUEST"), src, okm.RootPath, okm.ErrAccessDenied},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					var out bytes.Buffer
					stats, err := newImporter(b).ImportDocuments(tt.ctx, tt.src, tt.dest, impexp.ImportOptions{}, &out, nil)
					if !errors.Is(err, tt.wantErr) {
						t.Errorf("ImportDocuments() error = %v, want %v", err, tt.wantErr)
					}
					if stats.Nodes() != 0 || out.Len() != 0 {
						t.Errorf("ImportDocuments() = %+v, output %q", stats, out.String())
					}
				})
			}
		})
	}
}
