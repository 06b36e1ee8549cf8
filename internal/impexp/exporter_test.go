package impexp_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"okm-go/internal/impexp"
	"okm-go/internal/okm"
	"okm-go/internal/testutil"
)

// seed imports a small tree with history and a mail into b.
func seed(t *testing.T, b testutil.Backend) impexp.ImpExpStats {
	t.Helper()

	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"a.txt":            "hello",
		"docs/r.txt":       "two",
		"docs/r.txt#v1.0#": "one",
		"docs/r.txt#v1.1#": "two",
		"docs/empty/":      "",
		"inbox/report.eml": testMail,
	})
	opts := impexp.ImportOptions{RestoreHistory: true}
	stats, err := newImporter(b).ImportDocuments(testutil.AdminContext(), src, okm.RootPath, opts, &bytes.Buffer{}, nil)
	if err != nil || !stats.OK {
		t.Fatalf("ImportDocuments() = %+v, %v", stats, err)
	}
	return stats
}

func TestRepositoryExporter_ExportDocuments(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			ctx := testutil.AdminContext()
			seed(t, b)

			dest := filepath.Join(t.TempDir(), "out")
			ex := impexp.NewRepositoryExporter(b, "", okm.NewNopLogger())

			var out bytes.Buffer
			stats, err := ex.ExportDocuments(ctx, okm.RootPath, dest, impexp.ExportOptions{}, &out, impexp.TextInfoDecorator{Base: okm.RootPath})
			if err != nil {
				t.Fatalf("ExportDocuments() error = %v", err)
			}
			want := impexp.ImpExpStats{Documents: 2, Folders: 3, Mails: 1, Size: int64(8 + len(testMail)), OK: true}
			if stats != want {
				t.Errorf("ExportDocuments() = %+v, want %+v", stats, want)
			}
			if !strings.Contains(out.String(), "docs/r.txt (3 B)\n") {
				t.Errorf("output = %q", out.String())
			}

			got := testutil.ReadTree(t, dest)
			wantFiles := map[string]string{
				"a.txt":            "hello",
				"docs/r.txt":       "two",
				"inbox/report.eml": testMail,
			}
			if len(got) != len(wantFiles) {
				t.Errorf("exported files = %v", keys(got))
			}
			for name, data := range wantFiles {
				if got[name] != data {
					t.Errorf("%s = %q, want %q", name, got[name], data)
				}
			}

			out.Reset()
			again, err := ex.ExportDocuments(ctx, okm.RootPath, dest, impexp.ExportOptions{}, &out, nil)
			if err != nil {
				t.Fatalf("second ExportDocuments() error = %v", err)
			}
			if again.OK || again.Nodes() != stats.Nodes() {
				t.Errorf("second export = %+v, want failed items with counts of %+v", again, stats)
			}
			if strings.Count(out.String(), "[ERROR ItemExists]") != stats.Nodes() {
				t.Errorf("second export output = %q", out.String())
			}
		})
	}
}

func TestRepositoryExporter_Document(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			b := bf.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
			seed(t, b)

			dest := t.TempDir()
			ex := impexp.NewRepositoryExporter(b, "", okm.NewNopLogger())
			stats, err := ex.ExportDocuments(testutil.AdminContext(), "/okm:root/docs/r.txt", dest, impexp.ExportOptions{History: true}, &bytes.Buffer{}, nil)
			if err != nil {
				t.Fatalf("ExportDocuments() error = %v", err)
			}
			if stats != (impexp.ImpExpStats{Documents: 1, Size: 9, OK: true}) {
				t.Errorf("ExportDocuments() = %+v", stats)
			}

			got := testutil.ReadTree(t, dest)
			if got["r.txt"] != "two" || got["r.txt#v1.0#"] != "one" || got["r.txt#v1.1#"] != "two" || len(got) != 3 {
				t.Errorf("exported files = %v", got)
			}

			_, err = ex.ExportDocuments(testutil.AdminContext(), "/okm:root/missing", dest, impexp.ExportOptions{}, &bytes.Buffer{}, nil)
			if !errors.Is(err, okm.ErrPathNotFound) {
				t.Errorf("ExportDocuments(missing) error = %v, want ErrPathNotFound", err)
			}
		})
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, from := range testutil.Backends() {
		for _, to := range testutil.Backends() {
			t.Run(from.Name+"->"+to.Name, func(t *testing.T) {
				ctx := testutil.AdminContext()
				src := from.Open(t, testutil.NewTestStoreOptions(testutil.NewTestVault()))
				seeded := seed(t, src)

				dir := t.TempDir()
				exported, err := impexp.NewRepositoryExporter(src, "", okm.NewNopLogger()).
					ExportDocuments(ctx, okm.RootPath, dir, impexp.ExportOptions{Metadata: true, History: true}, &bytes.Buffer{}, nil)
				if err != nil || !exported.OK {
					t.Fatalf("ExportDocuments() = %+v, %v", exported, err)
				}
				files := testutil.ReadTree(t, dir)
				for _, name := range []string{"a.txt.json", "docs.json", "docs/r.txt.json", "docs/r.txt#v1.0#.json", "inbox/report.eml.json"} {
					if _, ok := files[name]; !ok {
						t.Errorf("missing sidecar %s in %v", name, keys(files))
					}
				}

				// Restored UUIDs come from the source's sequence.
				dstOpts := testutil.NewTestStoreOptions(testutil.NewTestVault())
				dstOpts.IDs = okm.UUIDGenerator{}
				dst := to.Open(t, dstOpts)
				opts := impexp.ImportOptions{UseMetadata: true, RestoreHistory: true, RestoreUUID: true}
				imported, err := newImporter(dst).ImportDocuments(ctx, dir, okm.RootPath, opts, &bytes.Buffer{}, nil)
				if err != nil || !imported.OK {
					t.Fatalf("ImportDocuments() = %+v, %v", imported, err)
				}
				if imported.Nodes() != seeded.Nodes() {
					t.Errorf("round trip visited %d nodes, seeded %d", imported.Nodes(), seeded.Nodes())
				}

				for _, p := range []string{"/okm:root/a.txt", "/okm:root/docs/r.txt"} {
					want, err := src.GetDocument(ctx, p)
					if err != nil {
						t.Fatalf("GetDocument(%s) error = %v", p, err)
					}
					got, err := dst.GetDocument(ctx, p)
					if err != nil {
						t.Fatalf("GetDocument(%s) after round trip error = %v", p, err)
					}
					if got.UUID != want.UUID || got.Author != want.Author || !got.Created.Equal(want.Created) {
						t.Errorf("%s = %s/%s/%v, want %s/%s/%v", p, got.UUID, got.Author, got.Created, want.UUID, want.Author, want.Created)
					}
					if got.ActualVersion.Name != want.ActualVersion.Name || got.ActualVersion.Checksum != want.ActualVersion.Checksum {
						t.Errorf("%s version = %+v, want %+v", p, got.ActualVersion, want.ActualVersion)
					}
				}

				history, err := dst.GetVersionHistory(ctx, "/okm:root/docs/r.txt")
				if err != nil || len(history) != 2 {
					t.Fatalf("GetVersionHistory() = %v, %v", history, err)
				}
				if got := content(t, dst, "/okm:root/docs/r.txt"); got != "two" {
					t.Errorf("content = %q", got)
				}

				ml, err := dst.GetMail(ctx, "/okm:root/inbox/report")
				if err != nil || ml.Subject != "report" {
					t.Errorf("GetMail() = %+v, %v", ml, err)
				}
			})
		}
	}
}

func TestCheckDocuments(t *testing.T) {
	for _, bf := range testutil.Backends() {
		t.Run(bf.Name, func(t *testing.T) {
			v := testutil.NewTestVault()
			b := bf.Open(t, testutil.NewTestStoreOptions(v))
			ctx := testutil.AdminContext()
			seed(t, b)

			tests := []struct {
				name     string
				base     string
				versions bool
				want     impexp.ImpExpStats
			}{
				{"current content", okm.RootPath, false, impexp.ImpExpStats{Documents: 3, Folders: 3, Mails: 1, Size: int64(5 + 3 + 7 + len(testMail)), OK: true}},
				{"all versions", okm.RootPath, true, impexp.ImpExpStats{Documents: 3, Folders: 3, Mails: 1, Size: int64(5 + 6 + 7 + len(testMail)), OK: true}},
				{"document base", "/okm:root/docs/r.txt", true, impexp.ImpExpStats{Documents: 1, Size: 6, OK: true}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					var out bytes.Buffer
					stats, err := b.CheckDocuments(ctx, tt.base, tt.versions, &out, impexp.HTMLInfoDecorator{})
					if err != nil {
						t.Fatalf("CheckDocuments() error = %v", err)
					}
					if stats != tt.want {
						t.Errorf("CheckDocuments() = %+v, want %+v", stats, tt.want)
					}
					if strings.Count(out.String(), "<tr") != stats.Nodes() {
						t.Errorf("printed rows for %d nodes: %q", stats.Nodes(), out.String())
					}
				})
			}

			doc, err := b.GetDocument(ctx, "/okm:root/a.txt")
			if err != nil {
				t.Fatalf("GetDocument() error = %v", err)
			}
			v.DeleteContent(testutil.SHA256Hex([]byte("hello")))

			var out bytes.Buffer
			stats, err := b.CheckDocuments(ctx, okm.RootPath, false, &out, nil)
			if err != nil {
				t.Fatalf("CheckDocuments() error = %v", err)
			}
			if stats.OK || stats.Documents != 3 || stats.Size != int64(3+7+len(testMail)) {
				t.Errorf("CheckDocuments() after losing %s = %+v", doc.Path, stats)
			}
			if !strings.Contains(out.String(), "/okm:root/a.txt (0 B) [ERROR ContentUnreadable]\n") {
				t.Errorf("output = %q", out.String())
			}
		})
	}
}

func keys(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
