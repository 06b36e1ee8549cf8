package impexp

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"okm-go/internal/okm"
)

// MailExt is the file extension of importable mail messages.
const MailExt = ".eml"

// MailMimeType is the MIME type of stored original messages.
const MailMimeType = "message/rfc822"

type mailAttachment struct {
	Name string
	Data []byte
}

type parsedMail struct {
	From        string
	ReplyTo     []string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Date        time.Time
	Body        string
	BodyType    string
	Attachments []mailAttachment
}

// parseMail reads an RFC 5322 message, collecting the first inline text
// body and every part carrying a file name or an attachment disposition.
// Transfer encodings are undone and text in a known charset is converted to
// UTF-8. Parts in an unknown charset or encoding are kept undecoded.
func parseMail(r io.Reader) (*parsedMail, error) {
	mr, err := mail.CreateReader(r)
	if (err != nil && !lenient(err)) || mr == nil {
		return nil, fmt.Errorf("reading message: %w: %w", okm.ErrMalformedMetadata, err)
	}

	h := &mr.Header
	pm := &parsedMail{
		ReplyTo: addressList(h, "Reply-To"),
		To:      addressList(h, "To"),
		Cc:      addressList(h, "Cc"),
		Bcc:     addressList(h, "Bcc"),
	}
	if from := addressList(h, "From"); len(from) > 0 {
		pm.From = from[0]
	} else if pm.From, err = h.Text("From"); err != nil {
		pm.From = h.Get("From")
	}
	if pm.Subject, err = h.Subject(); err != nil {
		pm.Subject = h.Get("Subject")
	}
	if d, err := h.Date(); err == nil {
		pm.Date = d
	}

	for i := 0; ; i++ {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !lenient(err) {
			return nil, fmt.Errorf("reading part %d: %w: %w", i+1, okm.ErrMalformedMetadata, err)
		}
		if p == nil {
			continue
		}
		if err := pm.addPart(p); err != nil {
			return nil, fmt.Errorf("reading part %d: %w: %w", i+1, okm.ErrMalformedMetadata, err)
		}
	}
	return pm, nil
}

func (pm *parsedMail) addPart(p *mail.Part) error {
	var hdr message.Header
	attachment := false
	switch h := p.Header.(type) {
	case *mail.InlineHeader:
		hdr = h.Header
	case *mail.AttachmentHeader:
		hdr = h.Header
		attachment = true
	}

	data, err := io.ReadAll(p.Body)
	if err != nil {
		return err
	}

	name, _ := (&mail.AttachmentHeader{Header: hdr}).Filename()
	if attachment || name != "" {
		pm.Attachments = append(pm.Attachments, mailAttachment{Name: name, Data: data})
		return nil
	}

	mediaType := "text/plain"
	if hdr.Get("Content-Type") != "" {
		if t, _, err := hdr.ContentType(); err == nil {
			mediaType = t
		}
	}
	if pm.BodyType == "" && strings.HasPrefix(mediaType, "text/") {
		pm.Body = string(data)
		pm.BodyType = mediaType
	}
	return nil
}

// lenient reports whether err only means some text could not be converted.
func lenient(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func addressList(h *mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a.Name == "" {
			out = append(out, "<"+a.Address+">")
			continue
		}
		// Names stay in UTF-8 rather than being re-encoded as RFC 2047 words.
		out = append(out, fmt.Sprintf("%q <%s>", a.Name, a.Address))
	}
	return out
}

// toMail fills a repository mail at path from the parsed message.
func (pm *parsedMail) toMail(path string, size int64) *okm.Mail {
	return &okm.Mail{
		Node:         okm.Node{Path: path, Type: okm.TypeMail},
		From:         pm.From,
		ReplyTo:      pm.ReplyTo,
		To:           pm.To,
		Cc:           pm.Cc,
		Bcc:          pm.Bcc,
		Subject:      pm.Subject,
		Content:      pm.Body,
		MimeType:     MailMimeType,
		Size:         size,
		SentDate:     pm.Date,
		ReceivedDate: pm.Date,
	}
}
