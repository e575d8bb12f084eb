// Package noteservice coordinates the workspace, the index and the reference
// engine behind the API, MCP and CLI surfaces.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/index"
	"github.com/starford/portal/internal/metrics"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/storage"
)

// DefaultPublishConcurrency bounds parallel compilations during Publish.
const DefaultPublishConcurrency = 4

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	Vault      string           `json:"vault"`
	Fname      string           `json:"fname"`
	ID         string           `json:"id"`
	Path       string           `json:"path"`
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	Checksum   string           `json:"checksum"`
	Dependents []models.NoteKey `json:"dependents"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	Vault     string    `json:"vault"`
	Fname     string    `json:"fname"`
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Title     string    `json:"title"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompileResult is the output of compiling one note.
type CompileResult struct {
	Vault  string `json:"vault"`
	Fname  string `json:"fname"`
	ID     string `json:"id"`
	Dest   string `json:"dest"`
	Output string `json:"output"`
}

// ReferenceInfo describes a parsed reference token.
type ReferenceInfo struct {
	Raw      string `json:"raw"`
	Target   string `json:"target"`
	Vault    string `json:"vault,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Wildcard bool   `json:"wildcard"`
}

// ResolveResult is the outcome of resolving a single reference.
type ResolveResult struct {
	Reference ReferenceInfo  `json:"reference"`
	Status    string         `json:"status"`
	Notes     []NoteListItem `json:"notes"`
	Error     string         `json:"error,omitempty"`
}

// Location is a go-to-reference target.
type Location struct {
	Vault string `json:"vault"`
	Fname string `json:"fname"`
	ID    string `json:"id"`
	Path  string `json:"path"`
	Line  int    `json:"line"`
}

// DefinitionResult is the reference found under an offset and its targets.
type DefinitionResult struct {
	Reference ReferenceInfo `json:"reference"`
	Locations []Location    `json:"locations"`
}

// PublishFailure records a note that could not be published.
type PublishFailure struct {
	Note  string `json:"note"`
	Error string `json:"error"`
}

// PublishResult summarizes a publish run.
type PublishResult struct {
	Dest      string           `json:"dest"`
	OutputDir string           `json:"output_dir"`
	Written   int              `json:"written"`
	Failed    []PublishFailure `json:"failed"`
}

// Notifier receives note changes together with the notes whose compiled
// output they make stale.
type Notifier interface {
	NoteChanged(kind string, key models.NoteKey, stale []models.NoteKey)
}

// Service coordinates storage, index and engine operations.
type Service struct {
	ws          *storage.Workspace
	db          index.NoteIndex
	engine      *noteref.Engine
	log         *slog.Logger
	rec         metrics.Recorder
	notifier    Notifier
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(s *Service) { s.rec = r } }

// WithNotifier sets the receiver of note change notifications.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithPublishConcurrency bounds the number of notes compiled in parallel by Publish.
func WithPublishConcurrency(n int) Option { return func(s *Service) { s.concurrency = n } }

// NewService creates a new note service.
func NewService(ws *storage.Workspace, db index.NoteIndex, engine *noteref.Engine, opts ...Option) *Service {
	s := &Service{ws: ws, db: db, engine: engine}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.rec == nil {
		s.rec = metrics.NoopRecorder{}
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultPublishConcurrency
	}
	return s
}

// Vaults returns the declared vault names in order.
func (s *Service) Vaults() []string {
	return s.ws.Names()
}

func (s *Service) checkVault(vault string) error {
	if vault != "" && s.ws.Rank(vault) < 0 {
		return fmt.Errorf("noteservice: vault %q: %w", vault, apperr.ErrUnknownVault)
	}
	return nil
}

// GetNote returns a note together with the notes that embed it.
func (s *Service) GetNote(ctx context.Context, key models.NoteKey) (*NoteDetail, error) {
	if err := s.checkVault(key.Vault); err != nil {
		return nil, err
	}
	n, err := s.db.GetNote(ctx, key)
	if err != nil {
		return nil, err
	}
	deps, err := s.db.Dependents(ctx, key)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Vault:      n.Vault,
		Fname:      n.Fname,
		ID:         n.ID,
		Path:       n.Path,
		Title:      n.Title,
		Content:    string(n.Content),
		Checksum:   n.Checksum,
		Dependents: nonNilSlice(deps),
		UpdatedAt:  n.UpdatedAt,
	}, nil
}

// ListNotes returns paginated notes, optionally limited to one vault.
func (s *Service) ListNotes(ctx context.Context, vault string, limit, offset int) ([]NoteListItem, int, error) {
	if err := s.checkVault(vault); err != nil {
		return nil, 0, err
	}
	rows, total, err := s.db.ListNotes(ctx, vault, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]NoteListItem, len(rows))
	for i, r := range rows {
		items[i] = NoteListItem{
			Vault:     r.Vault,
			Fname:     r.Fname,
			ID:        r.ID,
			Path:      r.Path,
			Title:     r.Title,
			Checksum:  r.Checksum,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Compile expands every reference of a stored note for dest.
func (s *Service) Compile(ctx context.Context, key models.NoteKey, dest noteref.Destination) (*CompileResult, error) {
	if err := s.checkVault(key.Vault); err != nil {
		return nil, err
	}
	n, err := s.db.GetNote(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := s.engine.CompileNote(ctx, n, dest)
	if err != nil {
		return nil, err
	}
	return &CompileResult{Vault: n.Vault, Fname: n.Fname, ID: n.ID, Dest: dest.String(), Output: out}, nil
}

// CompileText expands the references of an unsaved buffer as if it were a note of vault.
func (s *Service) CompileText(ctx context.Context, vault, text string, dest noteref.Destination) (string, error) {
	if err := s.checkVault(vault); err != nil {
		return "", err
	}
	return s.engine.CompileText(ctx, []byte(text), vault, dest)
}

// Resolve parses a single reference token and reports what it points at
// from the perspective of vault.
func (s *Service) Resolve(ctx context.Context, token, vault string) (*ResolveResult, error) {
	if err := s.checkVault(vault); err != nil {
		return nil, err
	}
	ref, ok := parseToken(token)
	if !ok {
		return nil, fmt.Errorf("noteservice: resolve %q: %w", token, apperr.ErrInvalidReference)
	}
	res := s.engine.Resolve(ctx, ref, vault)
	out := &ResolveResult{
		Reference: referenceInfo(ref),
		Status:    res.Status.String(),
		Notes:     make([]NoteListItem, 0, len(res.Notes)),
	}
	for _, n := range res.Notes {
		out.Notes = append(out.Notes, listItem(n))
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out, nil
}

// Definition finds the reference under the byte offset of text and returns
// the notes it points at.
func (s *Service) Definition(ctx context.Context, vault, text string, offset int) (*DefinitionResult, error) {
	if err := s.checkVault(vault); err != nil {
		return nil, err
	}
	ref, locs, err := s.engine.Locate(ctx, []byte(text), offset, vault)
	if errors.Is(err, noteref.ErrNoReference) || errors.Is(err, noteref.ErrReferenceNotFound) {
		return nil, fmt.Errorf("noteservice: definition: %w: %w", apperr.ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	out := &DefinitionResult{Reference: referenceInfo(ref), Locations: make([]Location, 0, len(locs))}
	for _, l := range locs {
		out.Locations = append(out.Locations, Location{
			Vault: l.Note.Vault,
			Fname: l.Note.Fname,
			ID:    l.Note.ID,
			Path:  l.Note.Path,
			Line:  l.Line,
		})
	}
	return out, nil
}

// Dependents returns the notes that directly reference key.
func (s *Service) Dependents(ctx context.Context, key models.NoteKey) ([]models.NoteKey, error) {
	if err := s.checkVault(key.Vault); err != nil {
		return nil, err
	}
	deps, err := s.db.Dependents(ctx, key)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(deps), nil
}

// StaleDependents returns every note whose compiled output includes key,
// following references transitively up to the engine's depth limit.
func (s *Service) StaleDependents(ctx context.Context, key models.NoteKey) ([]models.NoteKey, error) {
	seen := map[models.NoteKey]bool{key: true}
	var out []models.NoteKey
	frontier := []models.NoteKey{key}
	for depth := 0; depth < s.engine.Options().MaxDepth && len(frontier) > 0; depth++ {
		var next []models.NoteKey
		for _, k := range frontier {
			deps, err := s.db.Dependents(ctx, k)
			if err != nil {
				return nil, err
			}
			for _, d := range deps {
				if seen[d] {
					continue
				}
				seen[d] = true
				out = append(out, d)
				next = append(next, d)
			}
		}
		frontier = next
	}
	return nonNilSlice(out), nil
}

// OnNoteChanged forwards an index change to the notifier with the notes it
// makes stale. It matches index.EventCallback.
func (s *Service) OnNoteChanged(kind string, key models.NoteKey) {
	if s.notifier == nil {
		return
	}
	stale, err := s.StaleDependents(context.Background(), key)
	if err != nil {
		s.log.Warn("noteservice: dependents failed", slog.String("note", key.String()), slog.String("error", err.Error()))
	}
	s.notifier.NoteChanged(kind, key, stale)
}

// Publish compiles every indexed note for dest and writes the results under
// outDir as <vault>/<path>. Notes that fail are reported and skipped;
// cancellation stops scheduling further notes.
func (s *Service) Publish(ctx context.Context, dest noteref.Destination, outDir string) (*PublishResult, error) {
	if outDir == "" {
		return nil, fmt.Errorf("noteservice: publish: output directory is required")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("noteservice: publish: %w", err)
	}
	out, err := storage.NewFS(outDir)
	if err != nil {
		return nil, fmt.Errorf("noteservice: publish: %w", err)
	}
	res := &PublishResult{Dest: dest.String(), OutputDir: out.Root(), Failed: []PublishFailure{}}
	keys, err := s.db.Names(ctx, "")
	if err != nil {
		return res, err
	}

	var mu sync.Mutex
	fail := func(key models.NoteKey, err error) {
		s.rec.IncPublishResult(false)
		s.log.Warn("publish: note failed", slog.String("note", key.String()), slog.String("error", err.Error()))
		mu.Lock()
		res.Failed = append(res.Failed, PublishFailure{Note: key.String(), Error: err.Error()})
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, key := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := s.db.GetNote(gctx, key)
			if err != nil {
				fail(key, err)
				return nil
			}
			text, err := s.engine.CompileNote(gctx, n, dest)
			if err != nil {
				fail(key, err)
				return nil
			}
			if err := out.Write(publishPath(n, dest), []byte(text)); err != nil {
				fail(key, err)
				return nil
			}
			s.rec.IncPublishResult(true)
			mu.Lock()
			res.Written++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	s.log.Info("publish: done",
		slog.String("dest", res.Dest),
		slog.Int("written", res.Written),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}

func publishPath(n *models.Note, dest noteref.Destination) string {
	p := path.Join(n.Vault, n.Path)
	if dest == noteref.DestHTML {
		p = strings.TrimSuffix(p, ".md") + ".html"
	}
	return p
}

// parseToken accepts either reference form.
func parseToken(token string) (noteref.Ref, bool) {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "![[") {
		return noteref.ParseRef(token, noteref.FormEmbed)
	}
	return noteref.ParseRef(token, noteref.FormLegacy)
}

func referenceInfo(r noteref.Ref) ReferenceInfo {
	info := ReferenceInfo{Raw: r.Raw, Target: r.Target, Vault: r.Vault, Wildcard: r.Wildcard}
	if r.Start != nil {
		info.Start = r.Start.String()
	}
	if r.End != nil {
		info.End = r.End.String()
	}
	return info
}

func listItem(n *models.Note) NoteListItem {
	return NoteListItem{
		Vault:     n.Vault,
		Fname:     n.Fname,
		ID:        n.ID,
		Path:      n.Path,
		Title:     n.Title,
		Checksum:  n.Checksum,
		UpdatedAt: n.UpdatedAt,
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
