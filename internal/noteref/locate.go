package noteref

import (
	"bytes"
	"context"

	"github.com/starford/portal/internal/models"
)

// Location is a go-to-reference target. Line is 1-based in the note content.
type Location struct {
	Note *models.Note
	Line int
}

// Locate finds the reference under offset in src and returns where it
// points. Several matches yield every note at line 1; a single match with a
// start anchor points at the anchored line.
func (e *Engine) Locate(ctx context.Context, src []byte, offset int, vault string) (Ref, []Location, error) {
	ref, ok := ReferenceAt(src, offset, e.ScanOptions())
	if !ok {
		return Ref{}, nil, ErrNoReference
	}
	res := e.lookup(ctx, ref, vault)
	if res.Status == StatusNotFound {
		if res.Err == nil {
			return ref, nil, ErrReferenceNotFound
		}
		return ref, nil, res.Err
	}

	locs := make([]Location, 0, len(res.Notes))
	for _, n := range res.Notes {
		locs = append(locs, Location{Note: n, Line: 1})
	}
	if len(locs) == 1 && ref.Start != nil {
		// A missing anchor still locates the note itself.
		if span, err := Extract(locs[0].Note, ref.Start, nil); err == nil {
			n := locs[0].Note
			locs[0].Line = bytes.Count(n.Content[:n.BodyOffset+span.Start], []byte("\n")) + 1
		}
	}
	return ref, locs, nil
}
