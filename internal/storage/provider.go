// Package storage gives read and write access to the vault directories of a workspace.
package storage

import "github.com/starford/portal/internal/models"

// Provider reads the markdown files of one vault. Publish uses the same
// type to write compiled output.
type Provider interface {
	Root() string
	Walk(dir string, fn func(models.SourceFile) error) error
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
}
