package impexp

import (
	"fmt"
	"html"

	"github.com/dustin/go-humanize"
)

// InfoDecorator formats one progress line for a visited item.
// errTag is empty on success.
type InfoDecorator interface {
	Print(path string, size int64, errTag string) string
}

// TextInfoDecorator renders plain text lines for terminals and log files.
type TextInfoDecorator struct {
	// Base is stripped from the front of every printed path.
	Base string
}

func (d TextInfoDecorator) Print(path string, size int64, errTag string) string {
	line := fmt.Sprintf("%s (%s)", trimBase(d.Base, path), humanize.IBytes(uint64(max(size, 0))))
	if errTag != "" {
		line += " [ERROR " + errTag + "]"
	}
	return line + "\n"
}

// HTMLInfoDecorator renders one table row per item.
type HTMLInfoDecorator struct {
	Base string
}

func (d HTMLInfoDecorator) Print(path string, size int64, errTag string) string {
	p := html.EscapeString(trimBase(d.Base, path))
	sz := humanize.IBytes(uint64(max(size, 0)))
	if errTag == "" {
		return fmt.Sprintf("<tr><td>%s</td><td>%s</td><td></td></tr>\n", p, sz)
	}
	return fmt.Sprintf("<tr class=\"error\"><td>%s</td><td>%s</td><td><b>%s</b></td></tr>\n", p, sz, html.EscapeString(errTag))
}

func trimBase(base, path string) string {
	if base == "" || len(path) <= len(base) || path[:len(base)] != base {
		return path
	}
	rest := path[len(base):]
	if rest[0] == '/' {
		rest = rest[1:]
	}
	return rest
}
