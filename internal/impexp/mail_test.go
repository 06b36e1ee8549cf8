package impexp

import (
	"errors"
	"strings"
	"testing"
	"time"

	"okm-go/internal/okm"
)

const multipartMail = "From: \"Ana Lopez\" <ana@example.com>\r\n" +
	"To: bob@example.com, carol@example.com\r\n" +
	"Cc: dave@example.com\r\n" +
	"Reply-To: replies@example.com\r\n" +
	"Subject: =?UTF-8?Q?Informe_trimestral?=\r\n" +
	"Date: Mon, 15 Jan 2024 10:30:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/csv; name=\"q1.csv\"\r\n" +
	"Content-Disposition: attachment; filename=\"q1.csv\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"YSxiCjEs\r\n" +
	"Mgo=\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"q1.csv\"\r\n" +
	"\r\n" +
	"raw\r\n" +
	"--XYZ--\r\n"

func TestParseMail(t *testing.T) {
	pm, err := parseMail(strings.NewReader(multipartMail))
	if err != nil {
		t.Fatalf("parseMail() error = %v", err)
	}

	if pm.From != `"Ana Lopez" <ana@example.com>` {
		t.Errorf("From = %q", pm.From)
	}
	if len(pm.To) != 2 || pm.To[1] != "<carol@example.com>" {
		t.Errorf("To = %v", pm.To)
	}
	if len(pm.Cc) != 1 || len(pm.ReplyTo) != 1 || len(pm.Bcc) != 0 {
		t.Errorf("Cc = %v ReplyTo = %v Bcc = %v", pm.Cc, pm.ReplyTo, pm.Bcc)
	}
	if pm.Subject != "Informe trimestral" {
		t.Errorf("Subject = %q", pm.Subject)
	}
	if !pm.Date.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("Date = %v", pm.Date)
	}
	if pm.Body != "See attached." || pm.BodyType != "text/plain" {
		t.Errorf("Body = %q (%s)", pm.Body, pm.BodyType)
	}

	if len(pm.Attachments) != 2 {
		t.Fatalf("Attachments = %d, want 2", len(pm.Attachments))
	}
	if pm.Attachments[0].Name != "q1.csv" || string(pm.Attachments[0].Data) != "a,b\n1,2\n" {
		t.Errorf("attachment 0 = %s %q", pm.Attachments[0].Name, pm.Attachments[0].Data)
	}
	if string(pm.Attachments[1].Data) != "raw" {
		t.Errorf("attachment 1 = %q", pm.Attachments[1].Data)
	}

	ml := pm.toMail("/okm:root/m", 512)
	if ml.Type != okm.TypeMail || ml.Subject != pm.Subject || ml.MimeType != MailMimeType || ml.Size != 512 {
		t.Errorf("toMail() = %+v", ml)
	}
}

func TestParseMail_SinglePart(t *testing.T) {
	raw := "From: a@example.com\r\nSubject: plain\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\nline=20one=20=\r\ncontinued"
	pm, err := parseMail(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parseMail() error = %v", err)
	}
	if pm.Body != "line one continued" || pm.BodyType != "text/plain" {
		t.Errorf("Body = %q (%s)", pm.Body, pm.BodyType)
	}
	if pm.From != "<a@example.com>" || !pm.Date.IsZero() {
		t.Errorf("From = %q Date = %v", pm.From, pm.Date)
	}
}

func TestParseMail_Malformed(t *testing.T) {
	_, err := parseMail(strings.NewReader("no header separator"))
	if !errors.Is(err, okm.ErrMalformedMetadata) {
		t.Errorf("parseMail() error = %v, want ErrMalformedMetadata", err)
	}
}

func TestParseMail_Charset(t *testing.T) {
	raw := "From: =?ISO-8859-1?Q?Jos=E9?= <jose@example.com>\r\n" +
		"Subject: =?ISO-8859-1?Q?caf=E9?=\r\n" +
		"Content-Type: text/plain; charset=ISO-8859-1\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"caf\xe9 con leche"
	pm, err := parseMail(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parseMail() error = %v", err)
	}
	if pm.Body != "café con leche" {
		t.Errorf("Body = %q", pm.Body)
	}
	if pm.Subject != "café" || !strings.Contains(pm.From, "José") {
		t.Errorf("Subject = %q From = %q", pm.Subject, pm.From)
	}
}

func TestParseMail_NestedMultipart(t *testing.T) {
	raw := "Subject: nested\r\n" +
		"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
		"\r\n" +
		"--inner\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain\r\n" +
		"--inner\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html</p>\r\n" +
		"--inner--\r\n" +
		"--outer\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"r.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"JVBERg==\r\n" +
		"--outer--\r\n"
	pm, err := parseMail(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parseMail() error = %v", err)
	}
	if pm.Body != "plain" || pm.BodyType != "text/plain" {
		t.Errorf("Body = %q (%s)", pm.Body, pm.BodyType)
	}
	if len(pm.Attachments) != 1 || pm.Attachments[0].Name != "r.pdf" || string(pm.Attachments[0].Data) != "%PDF" {
		t.Errorf("Attachments = %+v", pm.Attachments)
	}
}

func TestParseMail_BadTransferEncoding(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid base64 bytes", "Subject: x\r\nContent-Type: multipart/mixed; boundary=\"B\"\r\n\r\n" +
			"--B\r\nContent-Type: application/octet-stream\r\nContent-Disposition: attachment; filename=\"x.bin\"\r\n" +
			"Content-Transfer-Encoding: base64\r\n\r\n" + strings.Repeat("\xe9", 4000) + "\r\n--B--\r\n"},
		{"single part", "Subject: x\r\nContent-Transfer-Encoding: base64\r\n\r\n" + strings.Repeat("\xe9", 4000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMail(strings.NewReader(tt.raw))
			if !errors.Is(err, okm.ErrMalformedMetadata) {
				t.Errorf("parseMail() error = %v, want ErrMalformedMetadata", err)
			}
		})
	}
}

func TestAttachmentName(t *testing.T) {
	seen := make(map[string]int)

	tests := []struct {
		name  string
		index int
		want  string
	}{
		{"q1.csv", 0, "q1.csv"},
		{"q1.csv", 1, "q1 (2).csv"},
		{"../../etc/passwd", 2, "passwd"},
		{"", 3, "attachment-4"},
		{"q1.csv", 4, "q1 (3).csv"},
	}
	for _, tt := range tests {
		if got := attachmentName(tt.name, tt.index, seen); got != tt.want {
			t.Errorf("attachmentName(%q, %d) = %q, want %q", tt.name, tt.index, got, tt.want)
		}
	}
}
