package okm

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path"
)

// Scanner inspects content for malware.
type Scanner interface {
	// Scan returns the name of the first threat found, or "" if r is clean.
	Scan(r io.Reader) (string, error)
}

// eicar is the standard antivirus test string.
const eicar = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

// SignatureScanner matches content against fixed byte signatures.
type SignatureScanner struct {
	signatures map[string][]byte
	maxLen     int
}

// NewSignatureScanner creates a scanner for the given name -> signature map.
func NewSignatureScanner(signatures map[string]string) *SignatureScanner {
	s := &SignatureScanner{signatures: make(map[string][]byte, len(signatures))}
	for name, sig := range signatures {
		s.signatures[name] = []byte(sig)
		s.maxLen = max(s.maxLen, len(sig))
	}
	return s
}

// NewEICARScanner returns a scanner that only detects the EICAR test file.
func NewEICARScanner() *SignatureScanner {
	return NewSignatureScanner(map[string]string{"EICAR-Test-File": eicar})
}

// Scan reads r in chunks, keeping an overlap so signatures spanning a chunk
// boundary are still found.
func (s *SignatureScanner) Scan(r io.Reader) (string, error) {
	if s.maxLen == 0 {
		return "", nil
	}
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 0, 64*1024+s.maxLen)
	chunk := make([]byte, 64*1024)
	for {
		n, err := br.Read(chunk)
		buf = append(buf, chunk[:n]...)
		for name, sig := range s.signatures {
			if bytes.Contains(buf, sig) {
				return name, nil
			}
		}
		if keep := s.maxLen - 1; len(buf) > keep {
			buf = append(buf[:0], buf[len(buf)-keep:]...)
		}
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("scanning content: %w", err)
		}
	}
}

// UploadPolicy holds the checks applied to every new document version.
// Zero values disable the corresponding check.
type UploadPolicy struct {
	MaxFileSize     int64
	UserQuota       int64
	DeniedMimeTypes []string // path.Match patterns, e.g. "video/*"
	Scanner         Scanner
}

// Check validates spooled content for a user who already stores used bytes.
func (p *UploadPolicy) Check(sp *SpooledContent, used int64) error {
	if p == nil {
		return nil
	}
	if p.MaxFileSize > 0 && sp.Size > p.MaxFileSize {
		return fmt.Errorf("%d bytes exceeds limit of %d: %w", sp.Size, p.MaxFileSize, ErrFileSizeExceeded)
	}
	for _, pattern := range p.DeniedMimeTypes {
		if ok, _ := path.Match(pattern, sp.MimeType); ok {
			return fmt.Errorf("%s: %w", sp.MimeType, ErrUnsupportedMimeType)
		}
	}
	if p.UserQuota > 0 && used+sp.Size > p.UserQuota {
		return fmt.Errorf("%d of %d bytes used: %w", used+sp.Size, p.UserQuota, ErrUserQuotaExceeded)
	}
	if p.Scanner != nil {
		f, err := sp.Open()
		if err != nil {
			return fmt.Errorf("opening spooled content: %w", err)
		}
		defer f.Close()
		threat, err := p.Scanner.Scan(f)
		if err != nil {
			return err
		}
		if threat != "" {
			return fmt.Errorf("%s: %w", threat, ErrVirusDetected)
		}
	}
	return nil
}
