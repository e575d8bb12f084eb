package noteref

import (
	"fmt"
	"slices"

	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/models"
)

// Destination is the output format of a compilation.
type Destination int

const (
	// DestSource keeps reference tokens byte-identical.
	DestSource Destination = iota
	// DestMarkdown substitutes expanded markdown in place.
	DestMarkdown
	// DestHTML renders HTML with portal containers.
	DestHTML
	// DestPreview is markdown with portal containers for live preview.
	DestPreview
)

var destinationNames = [...]string{"source", "markdown", "html", "preview"}

func (d Destination) String() string {
	if d < 0 || int(d) >= len(destinationNames) {
		return fmt.Sprintf("Destination(%d)", int(d))
	}
	return destinationNames[d]
}

// ParseDestination maps a destination name to its value.
func ParseDestination(s string) (Destination, error) {
	for i, name := range destinationNames {
		if s == name {
			return Destination(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", apperr.ErrInvalidDestination, s)
}

// Context is the state of one expansion pass. It is passed by value; Descend
// returns a copy so sibling expansions never see each other's path.
type Context struct {
	visited []string
	Depth   int
	Dest    Destination
	// Vault is the vault of the note being expanded.
	Vault string
}

// NewContext starts a pass rooted at note id rootID, which may be empty for
// text that is not a stored note.
func NewContext(dest Destination, vault, rootID string) Context {
	c := Context{Dest: dest, Vault: vault}
	if rootID != "" {
		c.visited = []string{rootID}
	}
	return c
}

// Seen reports whether id is already on the expansion path.
func (c Context) Seen(id string) bool {
	return slices.Contains(c.visited, id)
}

// Descend returns the context for expanding note one level deeper.
func (c Context) Descend(note *models.Note) Context {
	next := c
	next.visited = append(slices.Clip(c.visited), note.ID)
	next.Depth = c.Depth + 1
	next.Vault = note.Vault
	return next
}

// Visited returns a copy of the expansion path, root first.
func (c Context) Visited() []string {
	return slices.Clone(c.visited)
}
