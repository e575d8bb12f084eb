package noteref

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrReferenceNotFound  = errors.New("noteref: reference not found")
	ErrAmbiguousReference = errors.New("noteref: ambiguous reference")
	ErrAnchorNotFound     = errors.New("noteref: anchor not found")
	ErrCycleDetected      = errors.New("noteref: cycle detected")
	ErrDepthExceeded      = errors.New("noteref: max expansion depth exceeded")
	ErrNoReference        = errors.New("noteref: no reference at offset")
)

// AmbiguousError lists the notes an unqualified target matched in several vaults.
type AmbiguousError struct {
	Target     string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("noteref: %q is ambiguous: %s", e.Target, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguousReference }

// AnchorError reports an anchor that is missing from a resolved note.
type AnchorError struct {
	Note   string
	Anchor Anchor
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("noteref: anchor %q not found in %s", e.Anchor.String(), e.Note)
}

func (e *AnchorError) Unwrap() error { return ErrAnchorNotFound }
