package okm

import "time"

// NodeType distinguishes the three kinds of repository nodes.
type NodeType string

const (
	TypeFolder   NodeType = "folder"
	TypeDocument NodeType = "document"
	TypeMail     NodeType = "mail"
)

// Note is a comment attached to a node.
type Note struct {
	Author string
	Date   time.Time
	Text   string
}

// PropertyGroup is a named set of string properties attached to a node.
type PropertyGroup struct {
	Name       string
	Properties map[string]string
}

// Node holds the attributes shared by folders, documents and mails.
type Node struct {
	UUID            string
	Path            string
	Name            string
	Type            NodeType
	Author          string
	Created         time.Time
	Keywords        []string
	Categories      []string
	Notes           []Note
	Subscriptors    []string
	UserPermissions Grants
	RolePermissions Grants
	PropertyGroups  []PropertyGroup
}

// Folder is a container node.
type Folder struct {
	Node
}

// Document is a versioned binary node.
type Document struct {
	Node
	Title         string
	Description   string
	Language      string
	MimeType      string
	LastModified  time.Time
	CheckedOut    bool
	LockOwner     string
	ActualVersion *Version
}

// Mail is an imported e-mail message. Attachments are child documents.
type Mail struct {
	Node
	From         string
	ReplyTo      []string
	To           []string
	Cc           []string
	Bcc          []string
	Subject      string
	Content      string
	MimeType     string
	Size         int64
	SentDate     time.Time
	ReceivedDate time.Time
}

// Version is one entry of a document's history.
type Version struct {
	Name     string
	Author   string
	Created  time.Time
	Size     int64
	Comment  string
	MimeType string
	Checksum string
	Actual   bool
}
