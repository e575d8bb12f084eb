package noteref

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gobwas/glob"
	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/models"
)

// Index is the read-only note store the engine resolves against. It must be
// safe for concurrent reads.
type Index interface {
	// LookupByName returns the notes named name. An empty vault searches all
	// vaults; results are in declared vault order.
	LookupByName(ctx context.Context, name, vault string) ([]*models.Note, error)
	// LookupByID returns an error wrapping apperr.ErrNotFound when id is unknown.
	LookupByID(ctx context.Context, id string) (*models.Note, error)
	// Names lists note keys of vault, or of all vaults when vault is empty,
	// in declared vault order then by name.
	Names(ctx context.Context, vault string) ([]models.NoteKey, error)
}

// Status is the outcome of resolving a reference.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusAmbiguous
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusAmbiguous:
		return "ambiguous"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Resolution is the set of notes a reference matched.
type Resolution struct {
	Status Status
	Notes  []*models.Note
	Err    error
}

// Ambiguity is the policy for unqualified names found in several vaults.
type Ambiguity string

const (
	// AmbiguityPlaceholder renders a placeholder listing the candidates.
	AmbiguityPlaceholder Ambiguity = "placeholder"
	// AmbiguityFirst picks the candidate of the first declared vault.
	AmbiguityFirst Ambiguity = "first"
)

// Resolve finds the notes ref points at, applying the engine's ambiguity policy.
func (e *Engine) Resolve(ctx context.Context, ref Ref, currentVault string) Resolution {
	res := e.lookup(ctx, ref, currentVault)
	if res.Status == StatusAmbiguous && e.opts.Ambiguous == AmbiguityFirst {
		return Resolution{Status: StatusOK, Notes: res.Notes[:1]}
	}
	return res
}

// lookup resolves without applying the ambiguity policy.
func (e *Engine) lookup(ctx context.Context, ref Ref, currentVault string) Resolution {
	if ref.Wildcard {
		return e.lookupWildcard(ctx, ref)
	}

	if ref.Vault != "" {
		notes, err := e.byName(ctx, ref.Target, ref.Vault)
		if err != nil {
			return e.failed(ref, err)
		}
		if len(notes) > 0 {
			return Resolution{Status: StatusOK, Notes: notes[:1]}
		}
		return e.byID(ctx, ref, ref.QualifiedTarget())
	}

	if currentVault != "" {
		notes, err := e.byName(ctx, ref.Target, currentVault)
		if err != nil {
			return e.failed(ref, err)
		}
		if len(notes) > 0 {
			return Resolution{Status: StatusOK, Notes: notes[:1]}
		}
	}
	notes, err := e.byName(ctx, ref.Target, "")
	if err != nil {
		return e.failed(ref, err)
	}
	switch len(notes) {
	case 0:
		return e.byID(ctx, ref, ref.Target)
	case 1:
		return Resolution{Status: StatusOK, Notes: notes}
	}
	candidates := make([]string, 0, len(notes))
	for _, n := range notes {
		candidates = append(candidates, n.Key().String())
	}
	return Resolution{
		Status: StatusAmbiguous,
		Notes:  notes,
		Err:    &AmbiguousError{Target: ref.Target, Candidates: candidates},
	}
}

func (e *Engine) lookupWildcard(ctx context.Context, ref Ref) Resolution {
	g, err := glob.Compile(ref.Target, '/')
	if err != nil {
		return Resolution{Status: StatusNotFound, Err: fmt.Errorf("%w: %s: %v", ErrReferenceNotFound, ref.QualifiedTarget(), err)}
	}
	keys, err := e.idx.Names(ctx, ref.Vault)
	if err != nil {
		return e.failed(ref, err)
	}
	var matched []models.NoteKey
	for _, k := range keys {
		if g.Match(k.Fname) {
			matched = append(matched, k)
		}
	}
	// Names is already in vault order, so a stable sort keeps it for equal names.
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Fname < matched[j].Fname })

	var notes []*models.Note
	for _, k := range matched {
		found, err := e.byName(ctx, k.Fname, k.Vault)
		if err != nil {
			return e.failed(ref, err)
		}
		if len(found) > 0 {
			notes = append(notes, found[0])
		}
	}
	if len(notes) == 0 {
		return notFound(ref)
	}
	return Resolution{Status: StatusOK, Notes: notes}
}

func (e *Engine) byName(ctx context.Context, name, vault string) ([]*models.Note, error) {
	notes, err := e.idx.LookupByName(ctx, name, vault)
	if err != nil {
		return nil, fmt.Errorf("noteref: lookup %q: %w", name, err)
	}
	return notes, nil
}

func (e *Engine) byID(ctx context.Context, ref Ref, id string) Resolution {
	note, err := e.idx.LookupByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return notFound(ref)
		}
		return e.failed(ref, err)
	}
	return Resolution{Status: StatusOK, Notes: []*models.Note{note}}
}

// failed turns an index error into a NotFound outcome.
func (e *Engine) failed(ref Ref, err error) Resolution {
	e.log.Warn("noteref: index lookup failed",
		slog.String("target", ref.QualifiedTarget()),
		slog.String("error", err.Error()),
	)
	return Resolution{Status: StatusNotFound, Err: fmt.Errorf("%w: %s: %w", ErrReferenceNotFound, ref.QualifiedTarget(), err)}
}

func notFound(ref Ref) Resolution {
	return Resolution{Status: StatusNotFound, Err: fmt.Errorf("%w: %s", ErrReferenceNotFound, ref.QualifiedTarget())}
}
