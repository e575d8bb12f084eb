// Package parser turns raw note bytes into a models.Note: front matter, body and title.
package parser

import (
	"bytes"
	"path"
	"strings"

	"github.com/adrg/frontmatter"

	"github.com/starford/portal/internal/checksum"
	"github.com/starford/portal/internal/models"
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	ID         string
	Title      string
	Body       string
	BodyOffset int
}

type frontMatter struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// Parse extracts the front matter fields and the body from raw Markdown bytes.
// Content that carries no front matter, or front matter that fails to decode,
// is treated as all body.
func Parse(data []byte) (*Result, error) {
	var fm frontMatter
	if _, err := frontmatter.Parse(bytes.NewReader(data), &fm); err != nil {
		return &Result{Body: string(data)}, nil
	}

	off := bodyOffset(data)
	return &Result{
		ID:         strings.TrimSpace(fm.ID),
		Title:      strings.TrimSpace(fm.Title),
		Body:       string(data[off:]),
		BodyOffset: off,
	}, nil
}

// bodyOffset returns the byte offset right after the closing front matter
// delimiter line, or 0 when the content does not open with "---".
func bodyOffset(data []byte) int {
	const delim = "---"
	if !bytes.HasPrefix(data, []byte(delim)) {
		return 0
	}
	idx := bytes.Index(data[len(delim):], []byte("\n"+delim))
	if idx < 0 {
		return 0
	}
	end := len(delim) + idx + 1 + len(delim)
	if nl := bytes.IndexByte(data[end:], '\n'); nl >= 0 {
		return end + nl + 1
	}
	return len(data)
}

// FnameFromPath derives the note name from a vault-relative path:
// the .md extension is dropped and directories become dot-separated
// hierarchy levels ("journal/2020.01.md" -> "journal.2020.01").
func FnameFromPath(rel string) string {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	rel = strings.TrimSuffix(rel, ".md")
	return strings.ReplaceAll(rel, "/", ".")
}

// NewNote parses data and assembles the note stored at rel inside vault.
// Notes without an explicit id get "vault/fname".
func NewNote(vault, rel string, data []byte) (*models.Note, error) {
	res, err := Parse(data)
	if err != nil {
		return nil, err
	}
	fname := FnameFromPath(rel)
	id := res.ID
	if id == "" {
		id = vault + "/" + fname
	}
	return &models.Note{
		ID:         id,
		Fname:      fname,
		Vault:      vault,
		Path:       rel,
		Title:      res.Title,
		Content:    data,
		Body:       res.Body,
		BodyOffset: res.BodyOffset,
		Checksum:   checksum.Sum(data),
	}, nil
}
