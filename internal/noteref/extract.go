package noteref

import (
	"bytes"
	"strings"
	"sync"
	"unicode"

	"github.com/starford/portal/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Span is the extracted part of a note body. Start and Stop are offsets into
// the body, or into the full content when front matter was requested.
type Span struct {
	Text  string
	Start int
	Stop  int
}

type ExtractOption func(*extractConfig)

type extractConfig struct {
	frontmatter bool
}

// withFrontmatter keeps the front matter when no anchors are given.
func withFrontmatter() ExtractOption {
	return func(c *extractConfig) { c.frontmatter = true }
}

// Extract returns the range of note delimited by start and end.
//
// A heading start runs to the next heading of the same or a higher level.
// An end heading is exclusive; an end block or line is inclusive. The end
// anchor is only searched after the start anchor.
func Extract(note *models.Note, start, end *Anchor, opts ...ExtractOption) (Span, error) {
	var cfg extractConfig
	for _, o := range opts {
		o(&cfg)
	}
	if start == nil && end == nil {
		if cfg.frontmatter {
			return Span{Text: string(note.Content), Stop: len(note.Content)}, nil
		}
		return Span{Text: note.Body, Stop: len(note.Body)}, nil
	}

	body := note.Body
	o := newOutline([]byte(body))
	from, to := 0, len(body)
	if start != nil {
		s, e, ok := o.span(*start)
		if !ok {
			return Span{}, &AnchorError{Note: note.Key().String(), Anchor: *start}
		}
		from, to = s, e
	}
	if end != nil {
		after := from
		if start != nil {
			after = from + 1
		}
		stop, ok := o.end(*end, after)
		if !ok {
			return Span{}, &AnchorError{Note: note.Key().String(), Anchor: *end}
		}
		to = stop
	}
	return Span{Text: body[from:to], Start: from, Stop: to}, nil
}

type heading struct {
	level int
	text  string
	start int
	// setext headings span their text lines and the underline; stop is the
	// end of the underline line. Unset for ATX headings.
	setext bool
	stop   int
}

func (h heading) matches(v string) bool {
	return h.text == v || strings.EqualFold(h.text, v) || slug(h.text) == slug(v)
}

type block struct {
	id    string
	start int
	stop  int
}

// outline holds the heading and block boundaries of a body.
type outline struct {
	src      []byte
	headings []heading
	blocks   []block
	lines    []int
}

var plainParser = sync.OnceValue(func() parser.Parser { return goldmark.New().Parser() })

func newOutline(src []byte) *outline {
	o := &outline{src: src}
	root := plainParser().Parse(text.NewReader(src))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			lines := n.Lines()
			if lines.Len() == 0 {
				return ast.WalkSkipChildren, nil
			}
			var buf bytes.Buffer
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			h := heading{
				level: n.Level,
				text:  strings.TrimSpace(buf.String()),
				start: lineStart(src, lines.At(0).Start),
			}
			h.stop, h.setext = setextEnd(src, h.start, lines.At(0).Start, lines.At(lines.Len()-1).Start)
			o.headings = append(o.headings, h)
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			lines := n.Lines()
			if lines.Len() == 0 {
				return ast.WalkSkipChildren, nil
			}
			last := lines.At(lines.Len() - 1)
			id := trailingBlockID(string(bytes.TrimSpace(last.Value(src))))
			if id == "" {
				return ast.WalkSkipChildren, nil
			}
			b := block{id: id, start: lineStart(src, lines.At(0).Start), stop: lineEnd(src, last.Start)}
			if item, ok := n.Parent().(*ast.ListItem); ok && item.FirstChild() == n {
				if s, e, ok := nodeRange(src, item); ok {
					b.start, b.stop = s, e
				}
			}
			o.blocks = append(o.blocks, b)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	o.lines = append(o.lines, 0)
	for i, c := range src {
		if c == '\n' && i+1 < len(src) {
			o.lines = append(o.lines, i+1)
		}
	}
	if len(src) == 0 {
		o.lines = nil
	}
	return o
}

// span returns the range a start anchor selects on its own.
func (o *outline) span(a Anchor) (int, int, bool) {
	switch a.Kind {
	case AnchorWildcard:
		return 0, len(o.src), true
	case AnchorHeading:
		for i, h := range o.headings {
			if !h.matches(a.Value) {
				continue
			}
			stop := len(o.src)
			for _, next := range o.headings[i+1:] {
				if next.level <= h.level {
					stop = next.start
					break
				}
			}
			return h.start, stop, true
		}
	case AnchorBlockID:
		for _, b := range o.blocks {
			if b.id == a.Value {
				return b.start, b.stop, true
			}
		}
	case AnchorLine:
		if a.Line >= 1 && a.Line <= len(o.lines) {
			start := o.lines[a.Line-1]
			return start, lineEnd(o.src, start), true
		}
	}
	return 0, 0, false
}

// end returns the stop offset of an end anchor found at or after after.
func (o *outline) end(a Anchor, after int) (int, bool) {
	switch a.Kind {
	case AnchorWildcard:
		return len(o.src), true
	case AnchorHeading:
		for _, h := range o.headings {
			if h.start >= after && h.matches(a.Value) {
				return h.start, true
			}
		}
	case AnchorBlockID:
		for _, b := range o.blocks {
			if b.start >= after && b.id == a.Value {
				return b.stop, true
			}
		}
	case AnchorLine:
		if a.Line >= 1 && a.Line <= len(o.lines) {
			stop := lineEnd(o.src, o.lines[a.Line-1])
			if stop > after {
				return stop, true
			}
		}
	}
	return 0, false
}

// nodeRange covers every line of n's block descendants.
func nodeRange(src []byte, n ast.Node) (int, int, bool) {
	start, stop, found := 0, 0, false
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c.Type() != ast.TypeBlock {
			return ast.WalkContinue, nil
		}
		lines := c.Lines()
		if lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		s := lineStart(src, lines.At(0).Start)
		e := lineEnd(src, lines.At(lines.Len()-1).Start)
		if !found || s < start {
			start = s
		}
		if !found || e > stop {
			stop = e
		}
		found = true
		return ast.WalkContinue, nil
	})
	return start, stop, found
}

// setextEnd reports whether the heading whose text starts at first (on the
// line beginning at start) is a top-level setext heading, and where its
// underline ends. Headings nested in containers report false.
func setextEnd(src []byte, start, first, last int) (int, bool) {
	if first-start > 3 || len(bytes.TrimLeft(src[start:first], " ")) != 0 {
		return 0, false
	}
	under := lineEnd(src, last)
	if under >= len(src) {
		return 0, false
	}
	stop := lineEnd(src, under)
	line := bytes.TrimSpace(src[under:stop])
	if len(line) == 0 || (line[0] != '=' && line[0] != '-') || len(bytes.Trim(line, string(line[0]))) != 0 {
		return 0, false
	}
	return stop, true
}

func lineStart(src []byte, off int) int {
	return bytes.LastIndexByte(src[:off], '\n') + 1
}

func lineEnd(src []byte, off int) int {
	i := bytes.IndexByte(src[off:], '\n')
	if i < 0 {
		return len(src)
	}
	return off + i + 1
}

// trailingBlockID returns id for a line ending in " ^id".
func trailingBlockID(line string) string {
	i := strings.LastIndexByte(line, '^')
	if i < 0 || (i > 0 && line[i-1] != ' ' && line[i-1] != '\t') {
		return ""
	}
	id := line[i+1:]
	if id == "" {
		return ""
	}
	for _, r := range id {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return ""
		}
	}
	return id
}

// slug lowercases s, keeps letters and digits, and joins words with '-'.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_' || r == '\t':
			dash = true
		}
	}
	return b.String()
}
