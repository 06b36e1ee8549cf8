package okm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ContentRef locates one stored version of a document or mail.
type ContentRef struct {
	Checksum   string // SHA-256 of the plaintext
	StorageKey string // key of the object in the vault
	Size       int64
	MimeType   string
	Encrypted  bool
}

// SpooledContent is content copied to a local temp file while being hashed
// and sniffed, so policies can inspect it before it reaches the vault.
type SpooledContent struct {
	path     string
	Size     int64
	Checksum string
	MimeType string
}

// Open reopens the spooled bytes for reading.
func (s *SpooledContent) Open() (*os.File, error) {
	return os.Open(s.path)
}

// Remove deletes the temp file. Safe to call more than once.
func (s *SpooledContent) Remove() {
	if s != nil && s.path != "" {
		os.Remove(s.path)
		s.path = ""
	}
}

// BlobStore moves content between callers and a Vault, encrypting it when
// an Encryptor is configured.
type BlobStore struct {
	vault   Vault
	enc     Encryptor
	dec     DecryptionContext
	tempDir string
}

// NewBlobStore creates a BlobStore. enc may be nil to store plaintext.
func NewBlobStore(v Vault, enc Encryptor) *BlobStore {
	return &BlobStore{vault: v, enc: enc}
}

// Unlock enables reading encrypted content.
func (b *BlobStore) Unlock(dec DecryptionContext) {
	b.dec = dec
}

// Encrypted reports whether new content will be encrypted.
func (b *BlobStore) Encrypted() bool {
	return b.enc != nil
}

// Spool copies r to a temp file, computing its checksum and MIME type.
// name is only used as a MIME hint when the content itself is generic.
// The caller must call Remove on the result.
func (b *BlobStore) Spool(name string, r io.Reader) (*SpooledContent, error) {
	f, err := os.CreateTemp(b.tempDir, "okm-spool-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}
	sp := &SpooledContent{path: f.Name()}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		sp.Remove()
		return nil, fmt.Errorf("spooling content: %w", err)
	}

	sp.Size = n
	sp.Checksum = hex.EncodeToString(h.Sum(nil))

	detected, err := mimetype.DetectFile(sp.path)
	if err != nil {
		sp.Remove()
		return nil, fmt.Errorf("detecting mime type: %w", err)
	}
	sp.MimeType = resolveMimeType(name, detected)
	return sp, nil
}

// resolveMimeType prefers the sniffed type unless it is one of the generic
// fallbacks and the file extension says more.
func resolveMimeType(name string, detected *mimetype.MIME) string {
	sniffed, _, _ := strings.Cut(detected.String(), ";")
	if !detected.Is("application/octet-stream") && !detected.Is("text/plain") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		t, _, _ := strings.Cut(byExt, ";")
		return t
	}
	return sniffed
}

// Commit uploads spooled content to the vault.
func (b *BlobStore) Commit(sp *SpooledContent) (ContentRef, error) {
	ref := ContentRef{
		Checksum:   sp.Checksum,
		StorageKey: sp.Checksum,
		Size:       sp.Size,
		MimeType:   sp.MimeType,
	}

	if b.enc == nil {
		f, err := sp.Open()
		if err != nil {
			return ContentRef{}, fmt.Errorf("opening spooled content: %w", err)
		}
		defer f.Close()
		if err := b.vault.PutContent(ref.StorageKey, f, sp.Size); err != nil {
			return ContentRef{}, fmt.Errorf("storing content %s: %w", ref.Checksum, err)
		}
		return ref, nil
	}

	enc, err := b.encryptToTemp(sp)
	if err != nil {
		return ContentRef{}, err
	}
	defer enc.Remove()

	f, err := enc.Open()
	if err != nil {
		return ContentRef{}, fmt.Errorf("opening encrypted content: %w", err)
	}
	defer f.Close()

	ref.StorageKey = enc.Checksum
	ref.Encrypted = true
	if err := b.vault.PutContent(ref.StorageKey, f, enc.Size); err != nil {
		return ContentRef{}, fmt.Errorf("storing encrypted content %s: %w", ref.Checksum, err)
	}
	return ref, nil
}

func (b *BlobStore) encryptToTemp(sp *SpooledContent) (*SpooledContent, error) {
	src, err := sp.Open()
	if err != nil {
		return nil, fmt.Errorf("opening spooled content: %w", err)
	}
	defer src.Close()

	f, err := os.CreateTemp(b.tempDir, "okm-enc-*")
	if err != nil {
		return nil, fmt.Errorf("creating encryption file: %w", err)
	}
	out := &SpooledContent{path: f.Name()}

	cw := &countingWriter{w: f, h: sha256.New()}
	err = b.enc.Encrypt(src, cw)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		out.Remove()
		return nil, fmt.Errorf("encrypting content: %w", err)
	}
	out.Size = cw.n
	out.Checksum = hex.EncodeToString(cw.h.Sum(nil))
	return out, nil
}

// Put spools, then commits r in one step. Used where no policy applies.
func (b *BlobStore) Put(name string, r io.Reader) (ContentRef, error) {
	sp, err := b.Spool(name, r)
	if err != nil {
		return ContentRef{}, err
	}
	defer sp.Remove()
	return b.Commit(sp)
}

// Read writes the plaintext of ref to w and verifies its checksum.
// Missing, undecryptable or corrupted content yields ErrContentUnreadable.
func (b *BlobStore) Read(ref ContentRef, w io.Writer) (int64, error) {
	cw := &countingWriter{w: w, h: sha256.New()}

	if !ref.Encrypted {
		if err := b.vault.GetContent(ref.StorageKey, cw); err != nil {
			return cw.n, fmt.Errorf("%w: %w", ErrContentUnreadable, err)
		}
	} else {
		if b.dec == nil {
			return 0, fmt.Errorf("%w: content %s is encrypted and no key is unlocked", ErrContentUnreadable, ref.Checksum)
		}
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(b.vault.GetContent(ref.StorageKey, pw))
		}()
		err := b.dec.Decrypt(pr, cw)
		pr.CloseWithError(io.ErrClosedPipe)
		if err != nil {
			return cw.n, fmt.Errorf("%w: %w", ErrContentUnreadable, err)
		}
	}

	if sum := hex.EncodeToString(cw.h.Sum(nil)); sum != ref.Checksum {
		return cw.n, fmt.Errorf("%w: checksum mismatch for %s (got %s)", ErrContentUnreadable, ref.Checksum, sum)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.h.Write(p[:n])
	c.n += int64(n)
	return n, err
}
