package noteref

import (
	"iter"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// ScanOptions selects the reference forms the scanner accepts.
type ScanOptions struct {
	Legacy bool
}

// Segment is one piece of scanned text: either a plain Text run or a Ref.
// Start and Stop are byte offsets into the scanned source.
type Segment struct {
	Text  []byte
	Ref   *Ref
	Start int
	Stop  int
}

type located struct {
	ref   Ref
	start int
	stop  int
	// level of the last heading before the reference, 0 if none.
	level int
}

var (
	legacyScanner = sync.OnceValue(func() parser.Parser { return newScanParser(true) })
	embedScanner  = sync.OnceValue(func() parser.Parser { return newScanParser(false) })
)

func newScanParser(legacy bool) parser.Parser {
	return goldmark.New(goldmark.WithExtensions(&Extender{Legacy: legacy})).Parser()
}

func scanParser(opts ScanOptions) parser.Parser {
	if opts.Legacy {
		return legacyScanner()
	}
	return embedScanner()
}

// locate returns the references of src in document order. Code spans, code
// blocks and raw HTML are skipped by the markdown parser.
func locate(src []byte, opts ScanOptions) []located {
	root := scanParser(opts).Parse(text.NewReader(src))
	var out []located
	level := 0
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Heading:
			level = n.Level
		case *Node:
			out = append(out, located{ref: n.Ref, start: n.Segment.Start, stop: n.Segment.Stop, level: level})
		}
		return ast.WalkContinue, nil
	})
	return out
}

// Scan yields the text runs and references of src. The segments cover src
// exactly, in order. Malformed tokens stay inside text runs.
func Scan(src []byte, opts ScanOptions) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		refs := locate(src, opts)
		pos := 0
		for i := range refs {
			l := &refs[i]
			if l.start > pos {
				if !yield(Segment{Text: src[pos:l.start], Start: pos, Stop: l.start}) {
					return
				}
			}
			if !yield(Segment{Ref: &l.ref, Start: l.start, Stop: l.stop}) {
				return
			}
			pos = l.stop
		}
		if pos < len(src) {
			yield(Segment{Text: src[pos:], Start: pos, Stop: len(src)})
		}
	}
}

// ReferenceAt returns the reference whose token covers offset.
func ReferenceAt(src []byte, offset int, opts ScanOptions) (Ref, bool) {
	for seg := range Scan(src, opts) {
		if seg.Ref != nil && offset >= seg.Start && offset < seg.Stop {
			return *seg.Ref, true
		}
		if seg.Start > offset {
			break
		}
	}
	return Ref{}, false
}

// Targets returns every reference of src in document order.
func Targets(src []byte, opts ScanOptions) []Ref {
	refs := locate(src, opts)
	out := make([]Ref, 0, len(refs))
	for _, l := range refs {
		out = append(out, l.ref)
	}
	return out
}
