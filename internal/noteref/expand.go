package noteref

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/portal/internal/metrics"
	"github.com/starford/portal/internal/models"
)

// DefaultMaxDepth bounds nested expansion when Options.MaxDepth is unset.
const DefaultMaxDepth = 5

// Options configures an Engine.
type Options struct {
	// LegacySyntax enables the ((ref: [[target]])) form.
	LegacySyntax bool
	// InsertTitle injects the embedded note's title before its body in
	// html and preview output.
	InsertTitle bool
	MaxDepth    int
	// LinkPrefix is prepended to note ids in generated hrefs.
	LinkPrefix string
	Ambiguous  Ambiguity
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		LegacySyntax: true,
		MaxDepth:     DefaultMaxDepth,
		LinkPrefix:   "/notes/",
		Ambiguous:    AmbiguityPlaceholder,
	}
}

// Engine resolves and expands references against an Index. It holds no
// per-compilation state and is safe for concurrent use.
type Engine struct {
	idx  Index
	opts Options
	log  *slog.Logger
	rec  metrics.Recorder
}

type EngineOption func(*Engine)

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithRecorder(r metrics.Recorder) EngineOption {
	return func(e *Engine) { e.rec = r }
}

func NewEngine(idx Index, opts Options, eopts ...EngineOption) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.LinkPrefix == "" {
		opts.LinkPrefix = "/notes/"
	}
	if opts.Ambiguous == "" {
		opts.Ambiguous = AmbiguityPlaceholder
	}
	e := &Engine{idx: idx, opts: opts, log: slog.Default(), rec: metrics.NoopRecorder{}}
	for _, o := range eopts {
		o(e)
	}
	return e
}

func (e *Engine) Options() Options { return e.opts }

func (e *Engine) ScanOptions() ScanOptions {
	return ScanOptions{Legacy: e.opts.LegacySyntax}
}

// FragmentKind tags how a reference is written out.
type FragmentKind int

const (
	// FragmentRaw is the reference token as written.
	FragmentRaw FragmentKind = iota
	// FragmentLiteral is expanded text substituted in place.
	FragmentLiteral
	// FragmentPortal is expanded content inside a portal container.
	FragmentPortal
	// FragmentPlaceholder marks a reference that did not resolve.
	FragmentPlaceholder
)

// Fragment is the expansion of one reference.
type Fragment struct {
	Kind   FragmentKind
	Ref    Ref
	Embeds []Embed
	Err    error
	// Level is the level of the heading preceding the reference in its host.
	Level int
}

// Embed is one resolved note inside a fragment.
type Embed struct {
	Note *models.Note
	// Title is injected before Body when non-empty.
	Title string
	// Body is already rendered for the fragment's destination.
	Body string
	// Leaf is set when expansion stopped at this note; Body then keeps its
	// references unexpanded and Stop tells why.
	Leaf bool
	Stop error
	Err  error
}

// Expand resolves ref and expands every matched note for ectx.Dest.
// It never fails: problems are reported inside the fragment.
func (e *Engine) Expand(ctx context.Context, ref Ref, ectx Context) Fragment {
	if ectx.Dest == DestSource {
		return Fragment{Kind: FragmentRaw, Ref: ref}
	}

	res := e.Resolve(ctx, ref, ectx.Vault)
	switch res.Status {
	case StatusNotFound:
		e.rec.IncExpansion(ectx.Dest.String(), metrics.OutcomeNotFound)
		return Fragment{Kind: FragmentPlaceholder, Ref: ref, Err: res.Err}
	case StatusAmbiguous:
		e.rec.IncExpansion(ectx.Dest.String(), metrics.OutcomeAmbiguous)
		return Fragment{Kind: FragmentPlaceholder, Ref: ref, Err: res.Err}
	}

	f := Fragment{Kind: FragmentLiteral, Ref: ref}
	if ectx.Dest == DestHTML || ectx.Dest == DestPreview {
		f.Kind = FragmentPortal
	}
	for _, note := range res.Notes {
		f.Embeds = append(f.Embeds, e.embed(ctx, ref, note, ectx))
	}
	return f
}

func (e *Engine) embed(ctx context.Context, ref Ref, note *models.Note, ectx Context) Embed {
	em := Embed{Note: note}
	if e.opts.InsertTitle && (ectx.Dest == DestHTML || ectx.Dest == DestPreview) {
		em.Title = note.DisplayTitle()
	}

	span, err := Extract(note, ref.Start, ref.End)
	if err != nil {
		em.Err = err
		e.rec.IncExpansion(ectx.Dest.String(), metrics.OutcomeAnchorNotFound)
		return em
	}

	switch {
	case ectx.Seen(note.ID):
		em.Stop = ErrCycleDetected
	case ectx.Depth+1 > e.opts.MaxDepth:
		em.Stop = ErrDepthExceeded
	}
	if em.Stop != nil {
		em.Leaf = true
		e.log.Debug("noteref: expansion stopped",
			slog.String("note", note.ID),
			slog.String("reason", em.Stop.Error()),
			slog.Int("depth", ectx.Depth),
		)
		outcome := metrics.OutcomeCycle
		if errors.Is(em.Stop, ErrDepthExceeded) {
			outcome = metrics.OutcomeDepth
		}
		e.rec.IncExpansion(ectx.Dest.String(), outcome)
		lc := ectx
		lc.Vault = note.Vault
		em.Body, em.Err = e.leaf(ctx, span.Text, lc)
		return em
	}

	em.Body, em.Err = e.compile(ctx, []byte(span.Text), ectx.Descend(note))
	e.rec.IncExpansion(ectx.Dest.String(), metrics.OutcomeExpanded)
	return em
}

// leaf renders text without expanding its references.
func (e *Engine) leaf(ctx context.Context, text string, ectx Context) (string, error) {
	if ectx.Dest == DestHTML {
		return e.renderHTML(ctx, []byte(text), ectx, true)
	}
	return text, nil
}

func (e *Engine) compile(ctx context.Context, src []byte, ectx Context) (string, error) {
	if ectx.Dest == DestHTML {
		return e.renderHTML(ctx, src, ectx, false)
	}
	return e.compileMarkdown(ctx, src, ectx), nil
}
