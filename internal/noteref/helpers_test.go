package noteref

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"testing"

	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/metrics"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/parser"
	"github.com/stretchr/testify/require"
)

// memIndex is an in-memory Index for engine tests.
type memIndex struct {
	vaults []string
	notes  []*models.Note
}

func newMemIndex(vaults ...string) *memIndex {
	return &memIndex{vaults: vaults}
}

func (m *memIndex) add(t *testing.T, vault, fname, content string) *models.Note {
	t.Helper()
	n, err := parser.NewNote(vault, fname+".md", []byte(content))
	require.NoError(t, err)
	m.notes = append(m.notes, n)
	return n
}

func (m *memIndex) rank(vault string) int {
	return slices.Index(m.vaults, vault)
}

func (m *memIndex) LookupByName(_ context.Context, name, vault string) ([]*models.Note, error) {
	var out []*models.Note
	for _, n := range m.notes {
		if n.Fname == name && (vault == "" || n.Vault == vault) {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return m.rank(out[i].Vault) < m.rank(out[j].Vault) })
	return out, nil
}

func (m *memIndex) LookupByID(_ context.Context, id string) (*models.Note, error) {
	for _, n := range m.notes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("note %q: %w", id, apperr.ErrNotFound)
}

func (m *memIndex) Names(_ context.Context, vault string) ([]models.NoteKey, error) {
	var out []models.NoteKey
	for _, n := range m.notes {
		if vault == "" || n.Vault == vault {
			out = append(out, n.Key())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := m.rank(out[i].Vault), m.rank(out[j].Vault); ri != rj {
			return ri < rj
		}
		return out[i].Fname < out[j].Fname
	})
	return out, nil
}

// brokenIndex fails every lookup.
type brokenIndex struct{}

var errBroken = errors.New("index unavailable")

func (brokenIndex) LookupByName(context.Context, string, string) ([]*models.Note, error) {
	return nil, errBroken
}

func (brokenIndex) LookupByID(context.Context, string) (*models.Note, error) {
	return nil, errBroken
}

func (brokenIndex) Names(context.Context, string) ([]models.NoteKey, error) {
	return nil, errBroken
}

// countingRecorder tallies expansion outcomes.
type countingRecorder struct {
	metrics.NoopRecorder
	outcomes map[metrics.Outcome]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[metrics.Outcome]int{}}
}

func (r *countingRecorder) IncExpansion(_ string, o metrics.Outcome) { r.outcomes[o]++ }

func compile(t *testing.T, e *Engine, note *models.Note, dest Destination) string {
	t.Helper()
	out, err := e.CompileNote(context.Background(), note, dest)
	require.NoError(t, err)
	return out
}
