package noteservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/index"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/testutil"
)

type recordedChange struct {
	kind  string
	key   models.NoteKey
	stale []models.NoteKey
}

type fakeNotifier struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (f *fakeNotifier) NoteChanged(kind string, key models.NoteKey, stale []models.NoteKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, recordedChange{kind: kind, key: key, stale: stale})
}

type fixture struct {
	svc      *Service
	notifier *fakeNotifier
	dirs     map[string]string
}

func newFixture(t *testing.T, files map[string]map[string]string) *fixture {
	t.Helper()
	ws, dirs := testutil.TestWorkspace(t, "main", "other")
	for vault, notes := range files {
		for rel, content := range notes {
			testutil.WriteNote(t, dirs[vault], rel, content)
		}
	}
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := noteref.NewEngine(db, noteref.DefaultOptions(), noteref.WithLogger(logger))
	require.NoError(t, index.Sync(db, ws, engine.ScanOptions(), logger))

	n := &fakeNotifier{}
	svc := NewService(ws, db, engine, WithLogger(logger), WithNotifier(n), WithPublishConcurrency(2))
	return &fixture{svc: svc, notifier: n, dirs: dirs}
}

func sampleFiles() map[string]map[string]string {
	return map[string]map[string]string{
		"main": {
			"host.md":     "---\ntitle: Host\n---\n# Host\n\n![[part]]\n",
			"part.md":     "## Part\n\npart body\n\n![[leaf]]\n",
			"leaf.md":     "leaf body\n",
			"dir/deep.md": "deep\n",
		},
		"other": {
			"shared.md": "shared body\n",
		},
	}
}

func TestGetNote(t *testing.T) {
	f := newFixture(t, sampleFiles())
	ctx := context.Background()

	d, err := f.svc.GetNote(ctx, models.NoteKey{Vault: "main", Fname: "part"})
	require.NoError(t, err)
	require.Equal(t, "main/part", d.ID)
	require.Equal(t, []models.NoteKey{{Vault: "main", Fname: "host"}}, d.Dependents)

	_, err = f.svc.GetNote(ctx, models.NoteKey{Vault: "main", Fname: "absent"})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.GetNote(ctx, models.NoteKey{Vault: "nope", Fname: "part"})
	require.ErrorIs(t, err, apperr.ErrUnknownVault)
}

func TestListNotes(t *testing.T) {
	f := newFixture(t, sampleFiles())
	items, total, err := f.svc.ListNotes(context.Background(), "main", 2, 0)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, items, 2)
	require.Equal(t, "dir.deep", items[0].Fname)
}

func TestCompile(t *testing.T) {
	f := newFixture(t, sampleFiles())
	ctx := context.Background()

	res, err := f.svc.Compile(ctx, models.NoteKey{Vault: "main", Fname: "host"}, noteref.DestMarkdown)
	require.NoError(t, err)
	require.Equal(t, "markdown", res.Dest)
	require.Contains(t, res.Output, "---\ntitle: Host\n---\n")
	require.Contains(t, res.Output, "part body")
	require.Contains(t, res.Output, "leaf body")
	require.NotContains(t, res.Output, "![[")

	res, err = f.svc.Compile(ctx, models.NoteKey{Vault: "main", Fname: "host"}, noteref.DestSource)
	require.NoError(t, err)
	require.Equal(t, "---\ntitle: Host\n---\n# Host\n\n![[part]]\n", res.Output)
}

func TestCompileText(t *testing.T) {
	f := newFixture(t, sampleFiles())
	out, err := f.svc.CompileText(context.Background(), "main", "see ((ref: [[other/shared]]))", noteref.DestHTML)
	require.NoError(t, err)
	require.Contains(t, out, `data-note="other/shared"`)
	require.Contains(t, out, "shared body")
}

func TestResolve(t *testing.T) {
	f := newFixture(t, sampleFiles())
	ctx := context.Background()

	res, err := f.svc.Resolve(ctx, "![[part#Part]]", "main")
	require.NoError(t, err)
	require.Equal(t, "ok", res.Status)
	require.Equal(t, "part", res.Reference.Target)
	require.Equal(t, "#Part", res.Reference.Start)
	require.Len(t, res.Notes, 1)

	res, err = f.svc.Resolve(ctx, "((ref: [[missing]]))", "main")
	require.NoError(t, err)
	require.Equal(t, "not_found", res.Status)
	require.Empty(t, res.Notes)

	_, err = f.svc.Resolve(ctx, "not a reference", "main")
	require.ErrorIs(t, err, apperr.ErrInvalidReference)
}

func TestDefinition(t *testing.T) {
	f := newFixture(t, sampleFiles())
	ctx := context.Background()
	text := "intro ![[part#Part]] outro"

	res, err := f.svc.Definition(ctx, "main", text, 10)
	require.NoError(t, err)
	require.Len(t, res.Locations, 1)
	require.Equal(t, "part", res.Locations[0].Fname)
	require.Equal(t, 1, res.Locations[0].Line)

	_, err = f.svc.Definition(ctx, "main", text, 2)
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.ErrorIs(t, err, noteref.ErrNoReference)
}

func TestStaleDependents(t *testing.T) {
	f := newFixture(t, sampleFiles())
	stale, err := f.svc.StaleDependents(context.Background(), models.NoteKey{Vault: "main", Fname: "leaf"})
	require.NoError(t, err)
	require.ElementsMatch(t, []models.NoteKey{
		{Vault: "main", Fname: "part"},
		{Vault: "main", Fname: "host"},
	}, stale)

	f.svc.OnNoteChanged("updated", models.NoteKey{Vault: "main", Fname: "leaf"})
	require.Len(t, f.notifier.changes, 1)
	require.Equal(t, "updated", f.notifier.changes[0].kind)
	require.Len(t, f.notifier.changes[0].stale, 2)
}

func TestPublish(t *testing.T) {
	f := newFixture(t, sampleFiles())
	out := filepath.Join(t.TempDir(), "site")

	res, err := f.svc.Publish(context.Background(), noteref.DestHTML, out)
	require.NoError(t, err)
	require.Equal(t, 5, res.Written)
	require.Empty(t, res.Failed)

	data, err := os.ReadFile(filepath.Join(out, "main", "host.html"))
	require.NoError(t, err)
	require.Contains(t, string(data), "part body")

	_, err = os.Stat(filepath.Join(out, "main", "dir", "deep.html"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "other", "shared.html"))
	require.NoError(t, err)
}

func TestPublish_Cancelled(t *testing.T) {
	f := newFixture(t, sampleFiles())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.Publish(ctx, noteref.DestMarkdown, t.TempDir())
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.Zero(t, res.Written)
}
