package noteref

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// CompileNote expands every reference of note for dest. Markdown
// destinations keep the front matter; html renders the body only.
func (e *Engine) CompileNote(ctx context.Context, note *models.Note, dest Destination) (string, error) {
	start := time.Now()
	defer func() { e.rec.ObserveCompileDuration(dest.String(), time.Since(start)) }()

	ectx := NewContext(dest, note.Vault, note.ID)
	switch dest {
	case DestHTML:
		return e.renderHTML(ctx, []byte(note.Body), ectx, false)
	case DestSource, DestMarkdown, DestPreview:
		front := note.Content[:note.BodyOffset]
		return string(front) + e.compileMarkdown(ctx, []byte(note.Body), ectx), nil
	}
	return "", fmt.Errorf("noteref: compile %s: %w", note.ID, apperr.ErrInvalidDestination)
}

// CompileText expands the references of src as if it were a note of vault.
func (e *Engine) CompileText(ctx context.Context, src []byte, vault string, dest Destination) (string, error) {
	start := time.Now()
	defer func() { e.rec.ObserveCompileDuration(dest.String(), time.Since(start)) }()

	ectx := NewContext(dest, vault, "")
	switch dest {
	case DestHTML:
		return e.renderHTML(ctx, src, ectx, false)
	case DestSource, DestMarkdown, DestPreview:
		return e.compileMarkdown(ctx, src, ectx), nil
	}
	return "", fmt.Errorf("noteref: compile text: %w", apperr.ErrInvalidDestination)
}

// compileMarkdown replaces each reference token of src with its rendering
// and leaves every other byte untouched.
func (e *Engine) compileMarkdown(ctx context.Context, src []byte, ectx Context) string {
	refs := locate(src, e.ScanOptions())
	edits := make([]edit, 0, len(refs))
	for _, l := range refs {
		f := e.Expand(ctx, l.ref, ectx)
		f.Level = l.level
		text := Render(f, ectx.Dest, e.opts)
		edits = append(edits, edit{start: l.start, stop: l.stop, text: continueLines(text, containerPrefix(src, l.start))})
	}
	return string(applyEdits(src, edits))
}

// containerPrefix returns what a continuation line needs to stay inside the
// block quotes and list items open at off: the quote markers, with list
// markers turned into spaces. Plain text before off ends the prefix.
func containerPrefix(src []byte, off int) string {
	line := src[lineStart(src, off):off]
	var b strings.Builder
	for i := 0; i < len(line); {
		switch c := line[i]; {
		case c == ' ' || c == '\t' || c == '>':
			b.WriteByte(c)
			i++
		case c == '-' || c == '*' || c == '+':
			if i+1 < len(line) && line[i+1] == ' ' {
				b.WriteString("  ")
				i += 2
				continue
			}
			return b.String()
		case c >= '0' && c <= '9':
			j := i
			for j < len(line) && j-i < 9 && line[j] >= '0' && line[j] <= '9' {
				j++
			}
			if j+1 < len(line) && (line[j] == '.' || line[j] == ')') && line[j+1] == ' ' {
				b.WriteString(strings.Repeat(" ", j+2-i))
				i = j + 2
				continue
			}
			return b.String()
		default:
			return b.String()
		}
	}
	return b.String()
}

// continueLines prefixes every line of text after the first. Blank lines get
// the prefix without trailing spaces.
func continueLines(text, prefix string) string {
	if prefix == "" || !strings.Contains(text, "\n") {
		return text
	}
	lines := strings.Split(text, "\n")
	blank := strings.TrimRight(prefix, " \t")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" {
			lines[i] = blank
			continue
		}
		lines[i] = prefix + lines[i]
	}
	return strings.Join(lines, "\n")
}

// renderHTML converts src to HTML. With literal set, references are written
// as their source text instead of being expanded.
func (e *Engine) renderHTML(ctx context.Context, src []byte, ectx Context, literal bool) (string, error) {
	ext := &Extender{
		Legacy:  e.opts.LegacySyntax,
		Links:   true,
		Literal: literal,
		Expand: func(ref Ref) string {
			return Render(e.Expand(ctx, ref, ectx), DestHTML, e.opts)
		},
		Link: func(l WikiLink) (string, bool) {
			return e.href(ctx, l, ectx.Vault)
		},
	}
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM, ext),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	var buf bytes.Buffer
	if err := md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("noteref: render html: %w", err)
	}
	return buf.String(), nil
}

// href resolves a wikilink target from vault to a note URL.
func (e *Engine) href(ctx context.Context, l WikiLink, vault string) (string, bool) {
	ref, ok := ParseRef(embedOpen+l.Target+"]]", FormEmbed)
	if !ok || ref.Wildcard {
		return "", false
	}
	res := e.Resolve(ctx, ref, vault)
	if res.Status != StatusOK {
		return "", false
	}
	h := e.opts.LinkPrefix + res.Notes[0].ID
	if l.Anchor != "" {
		h += "#" + slug(l.Anchor)
	}
	return h, true
}
