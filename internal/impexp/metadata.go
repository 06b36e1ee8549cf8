package impexp

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"okm-go/internal/okm"
)

// DefaultMetadataExt is the suffix of sidecar metadata files.
const DefaultMetadataExt = ".json"

var validate = validator.New()

// NoteMetadata is the transfer form of okm.Note.
type NoteMetadata struct {
	Author string    `json:"author,omitempty"`
	Date   time.Time `json:"date,omitzero"`
	Text   string    `json:"text" validate:"required"`
}

// PropertyGroupMetadata is the transfer form of okm.PropertyGroup.
type PropertyGroupMetadata struct {
	Name       string            `json:"name" validate:"required"`
	Properties map[string]string `json:"properties,omitempty"`
}

// NodeMetadata holds the attributes common to every sidecar.
type NodeMetadata struct {
	UUID           string                    `json:"uuid,omitempty" validate:"omitempty,max=64"`
	Path           string                    `json:"path" validate:"required,startswith=/okm:root"`
	Name           string                    `json:"name,omitempty" validate:"excludes=/"`
	Author         string                    `json:"author,omitempty"`
	Created        time.Time                 `json:"created,omitzero"`
	Keywords       []string                  `json:"keywords,omitempty"`
	Categories     []string                  `json:"categories,omitempty"`
	Notes          []NoteMetadata            `json:"notes,omitempty" validate:"dive"`
	Subscriptors   []string                  `json:"subscriptors,omitempty"`
	GrantedUsers   map[string]okm.Permission `json:"grantedUsers,omitempty" validate:"dive,min=0,max=15"`
	GrantedRoles   map[string]okm.Permission `json:"grantedRoles,omitempty" validate:"dive,min=0,max=15"`
	PropertyGroups []PropertyGroupMetadata   `json:"propertyGroups,omitempty" validate:"dive"`
}

// FolderMetadata is the sidecar of a folder.
type FolderMetadata struct {
	NodeMetadata
}

// VersionMetadata describes one document version.
type VersionMetadata struct {
	Name     string    `json:"name,omitempty"`
	Author   string    `json:"author,omitempty"`
	Created  time.Time `json:"created,omitzero"`
	Size     int64     `json:"size" validate:"min=0"`
	Comment  string    `json:"comment,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Checksum string    `json:"checksum,omitempty"`
}

// DocumentMetadata is the sidecar of a document.
type DocumentMetadata struct {
	NodeMetadata
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Language     string          `json:"language,omitempty"`
	MimeType     string          `json:"mimeType,omitempty"`
	LastModified time.Time       `json:"lastModified,omitzero"`
	Version      VersionMetadata `json:"version"`
}

// MailMetadata is the sidecar of a mail.
type MailMetadata struct {
	NodeMetadata
	From         string    `json:"from,omitempty"`
	Reply        []string  `json:"reply,omitempty"`
	To           []string  `json:"to,omitempty"`
	Cc           []string  `json:"cc,omitempty"`
	Bcc          []string  `json:"bcc,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Content      string    `json:"content,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	Size         int64     `json:"size" validate:"min=0"`
	SentDate     time.Time `json:"sentDate,omitzero"`
	ReceivedDate time.Time `json:"receivedDate,omitzero"`
}

// ReadMetadata decodes and validates the sidecar at path into v.
// Decode and validation failures wrap okm.ErrMalformedMetadata.
func ReadMetadata(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening metadata: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w: %w", path, okm.ErrMalformedMetadata, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("validating %s: %w: %w", path, okm.ErrMalformedMetadata, verrs)
		}
		return fmt.Errorf("validating %s: %w", path, err)
	}
	return nil
}

// WriteMetadata writes v as an indented JSON sidecar. An existing file is
// reported as okm.ErrItemExists.
func WriteMetadata(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, okm.ErrItemExists)
		}
		return fmt.Errorf("creating metadata file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

func (m *NodeMetadata) node(t okm.NodeType) okm.Node {
	n := okm.Node{
		UUID:            m.UUID,
		Path:            m.Path,
		Name:            m.Name,
		Type:            t,
		Author:          m.Author,
		Created:         m.Created,
		Keywords:        m.Keywords,
		Categories:      m.Categories,
		Subscriptors:    m.Subscriptors,
		UserPermissions: okm.Grants(maps.Clone(m.GrantedUsers)),
		RolePermissions: okm.Grants(maps.Clone(m.GrantedRoles)),
	}
	for _, note := range m.Notes {
		n.Notes = append(n.Notes, okm.Note{Author: note.Author, Date: note.Date, Text: note.Text})
	}
	for _, pg := range m.PropertyGroups {
		n.PropertyGroups = append(n.PropertyGroups, okm.PropertyGroup{Name: pg.Name, Properties: maps.Clone(pg.Properties)})
	}
	return n
}

func nodeMetadataOf(n *okm.Node) NodeMetadata {
	m := NodeMetadata{
		UUID:         n.UUID,
		Path:         n.Path,
		Name:         n.Name,
		Author:       n.Author,
		Created:      n.Created,
		Keywords:     n.Keywords,
		Categories:   n.Categories,
		Subscriptors: n.Subscriptors,
		GrantedUsers: maps.Clone(n.UserPermissions),
		GrantedRoles: maps.Clone(n.RolePermissions),
	}
	for _, note := range n.Notes {
		m.Notes = append(m.Notes, NoteMetadata{Author: note.Author, Date: note.Date, Text: note.Text})
	}
	for _, pg := range n.PropertyGroups {
		m.PropertyGroups = append(m.PropertyGroups, PropertyGroupMetadata{Name: pg.Name, Properties: maps.Clone(pg.Properties)})
	}
	return m
}

// Folder converts the sidecar to a repository folder.
func (m *FolderMetadata) Folder() *okm.Folder {
	return &okm.Folder{Node: m.node(okm.TypeFolder)}
}

// FolderMetadataOf snapshots a repository folder.
func FolderMetadataOf(f *okm.Folder) *FolderMetadata {
	return &FolderMetadata{NodeMetadata: nodeMetadataOf(&f.Node)}
}

// VersionInfo converts the sidecar to a repository version.
func (m *VersionMetadata) VersionInfo() *okm.Version {
	return &okm.Version{
		Name:     m.Name,
		Author:   m.Author,
		Created:  m.Created,
		Size:     m.Size,
		Comment:  m.Comment,
		MimeType: m.MimeType,
		Checksum: m.Checksum,
	}
}

// VersionMetadataOf snapshots a repository version.
func VersionMetadataOf(v *okm.Version) VersionMetadata {
	return VersionMetadata{
		Name:     v.Name,
		Author:   v.Author,
		Created:  v.Created,
		Size:     v.Size,
		Comment:  v.Comment,
		MimeType: v.MimeType,
		Checksum: v.Checksum,
	}
}

// Document converts the sidecar to a repository document. The nested
// version becomes the document's initial version.
func (m *DocumentMetadata) Document() *okm.Document {
	return &okm.Document{
		Node:          m.node(okm.TypeDocument),
		Title:         m.Title,
		Description:   m.Description,
		Language:      m.Language,
		MimeType:      m.MimeType,
		LastModified:  m.LastModified,
		ActualVersion: m.Version.VersionInfo(),
	}
}

// DocumentMetadataOf snapshots a repository document.
func DocumentMetadataOf(d *okm.Document) *DocumentMetadata {
	m := &DocumentMetadata{
		NodeMetadata: nodeMetadataOf(&d.Node),
		Title:        d.Title,
		Description:  d.Description,
		Language:     d.Language,
		MimeType:     d.MimeType,
		LastModified: d.LastModified,
	}
	if d.ActualVersion != nil {
		m.Version = VersionMetadataOf(d.ActualVersion)
	}
	return m
}

// Mail converts the sidecar to a repository mail.
func (m *MailMetadata) Mail() *okm.Mail {
	return &okm.Mail{
		Node:         m.node(okm.TypeMail),
		From:         m.From,
		ReplyTo:      m.Reply,
		To:           m.To,
		Cc:           m.Cc,
		Bcc:          m.Bcc,
		Subject:      m.Subject,
		Content:      m.Content,
		MimeType:     m.MimeType,
		Size:         m.Size,
		SentDate:     m.SentDate,
		ReceivedDate: m.ReceivedDate,
	}
}

// MailMetadataOf snapshots a repository mail.
func MailMetadataOf(ml *okm.Mail) *MailMetadata {
	return &MailMetadata{
		NodeMetadata: nodeMetadataOf(&ml.Node),
		From:         ml.From,
		Reply:        ml.ReplyTo,
		To:           ml.To,
		Cc:           ml.Cc,
		Bcc:          ml.Bcc,
		Subject:      ml.Subject,
		Content:      ml.Content,
		MimeType:     ml.MimeType,
		Size:         ml.Size,
		SentDate:     ml.SentDate,
		ReceivedDate: ml.ReceivedDate,
	}
}
