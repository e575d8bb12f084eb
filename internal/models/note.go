// Package models defines the domain types for Portal.
package models

import "time"

// Note represents a parsed Markdown file in one vault of the workspace.
// Notes are read-only once loaded; compilation never mutates them.
type Note struct {
	ID         string    `json:"id"`
	Fname      string    `json:"fname"`
	Vault      string    `json:"vault"`
	Path       string    `json:"path"`
	Title      string    `json:"title,omitempty"`
	Content    []byte    `json:"-"`
	Body       string    `json:"body"`
	BodyOffset int       `json:"-"` // offset of Body inside Content
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the (vault, fname) pair identifying the note.
func (n *Note) Key() NoteKey {
	return NoteKey{Vault: n.Vault, Fname: n.Fname}
}

// DisplayTitle returns the declared title, falling back to the file name.
func (n *Note) DisplayTitle() string {
	if n.Title != "" {
		return n.Title
	}
	return n.Fname
}

// NoteKey identifies a note by vault and name. Names are unique per vault.
type NoteKey struct {
	Vault string `json:"vault"`
	Fname string `json:"fname"`
}

// String renders the key in vault-qualified form.
func (k NoteKey) String() string {
	return k.Vault + "/" + k.Fname
}

// SourceFile is a markdown file read from a vault, before parsing.
type SourceFile struct {
	Path     string
	Checksum string
	ModTime  time.Time
	Data     []byte
}

// Link is an outgoing reference of a note as written: target name plus the
// optional vault qualifier.
type Link struct {
	Target string `json:"target"`
	Vault  string `json:"vault,omitempty"`
	Type   string `json:"type"`
}

// LinkTypeRef marks an embedding note reference.
const LinkTypeRef = "ref"
