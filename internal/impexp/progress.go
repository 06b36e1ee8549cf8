package impexp

import (
	"fmt"
	"io"

	"okm-go/internal/okm"
)

// Progress writes the decorated line of every visited item and logs it.
// Importer, exporter and both repository checkers report through it.
type Progress struct {
	out    io.Writer
	deco   InfoDecorator
	logger okm.Logger
	action string
}

// NewProgress creates a reporter. action names the successful outcome in
// log messages, e.g. "imported".
func NewProgress(out io.Writer, deco InfoDecorator, logger okm.Logger, action string) *Progress {
	if deco == nil {
		deco = TextInfoDecorator{}
	}
	return &Progress{out: out, deco: deco, logger: logger, action: action}
}

// Report writes the line for path. Item errors are absorbed after being
// logged and tagged; any other error is returned so the walk stops.
func (p *Progress) Report(path string, size int64, err error) error {
	if err != nil && !okm.IsItemError(err) {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err != nil {
		p.logger.Error("item not "+p.action, "path", path, "tag", okm.ErrorTag(err), "error", err)
	} else {
		p.logger.Info(p.action, "path", path, "size", size)
	}
	if _, werr := io.WriteString(p.out, p.deco.Print(path, size, okm.ErrorTag(err))); werr != nil {
		return fmt.Errorf("writing progress: %w", werr)
	}
	return nil
}
