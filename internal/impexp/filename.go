package impexp

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// versionFilename matches "<name>#v<version>#".
var versionFilename = regexp.MustCompile(`^.+#v[^#]+#$`)

// IsVersionFilename reports whether name is a historical version file.
func IsVersionFilename(name string) bool {
	return versionFilename.MatchString(name)
}

// NoVersionFilter accepts every entry that is not a version file.
// "report.pdf" and "report.pdf#" pass, "report.pdf#v3#" does not.
func NoVersionFilter(name string) bool {
	return !IsVersionFilename(name)
}

// VersionFilter returns a filter accepting only the version files of base.
func VersionFilter(base string) func(string) bool {
	prefix := base + "#v"
	return func(name string) bool {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "#") {
			return false
		}
		ver := name[len(prefix) : len(name)-1]
		return ver != "" && !strings.Contains(ver, "#")
	}
}

// VersionFilename returns the file name holding version ver of base.
func VersionFilename(base, ver string) string {
	return base + "#v" + ver + "#"
}

// VersionFromFilename extracts the version token of a version file name:
// the text between the last "#v" marker and the trailing "#".
func VersionFromFilename(name string) string {
	trimmed := strings.TrimSuffix(name, "#")
	i := strings.LastIndex(trimmed, "#v")
	if i < 0 {
		return ""
	}
	return trimmed[i+2:]
}

// CompareVersionFilenames orders version files by their version token.
// Segments compare numerically; when the shared prefix is equal the
// shorter version sorts first, so "2.2" < "2.2.0".
func CompareVersionFilenames(a, b string) int {
	return CompareVersions(VersionFromFilename(a), VersionFromFilename(b))
}

// CompareVersions compares dot separated version strings.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

func compareSegment(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// SortVersionFilenames sorts names oldest version first.
func SortVersionFilenames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		return CompareVersionFilenames(names[i], names[j]) < 0
	})
}
