package index

import (
	"context"

	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
)

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	noteref.Index
	SetVaults(names []string) error
	UpsertNote(n *models.Note, links []models.Link) error
	DeleteNote(key models.NoteKey) error
	GetChecksum(vault, path string) (string, error)
	AllChecksums(vault string) (map[string]string, error)
	GetNote(ctx context.Context, key models.NoteKey) (*models.Note, error)
	ListNotes(ctx context.Context, vault string, limit, offset int) ([]NoteRow, int, error)
	Dependents(ctx context.Context, key models.NoteKey) ([]models.NoteKey, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
