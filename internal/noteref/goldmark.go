package noteref

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

const (
	legacyOpen  = "((ref:"
	legacyClose = "))"
	embedOpen   = "![["
)

// Inline parsers run before goldmark's link parser (priority 200) so that
// "[[" and "![[" never reach it.
const parserPriority = 199

var (
	KindNode     = ast.NewNodeKind("NoteRef")
	KindWikiLink = ast.NewNodeKind("WikiLink")
	KindBlock    = ast.NewNodeKind("NoteRefBlock")
)

// Node is an inline note reference. Segment holds absolute source offsets.
type Node struct {
	ast.BaseInline
	Ref     Ref
	Segment text.Segment
}

func (n *Node) Kind() ast.NodeKind { return KindNode }

func (n *Node) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Raw": n.Ref.Raw}, nil)
}

// WikiLinkNode is an inline [[label|target]] link.
type WikiLinkNode struct {
	ast.BaseInline
	Link WikiLink
}

func (n *WikiLinkNode) Kind() ast.NodeKind { return KindWikiLink }

func (n *WikiLinkNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Target": n.Link.Target, "Label": n.Link.Label}, nil)
}

// Block replaces a paragraph whose only content is references, so portals
// are not rendered inside <p>.
type Block struct {
	ast.BaseBlock
}

func (b *Block) Kind() ast.NodeKind { return KindBlock }

func (b *Block) Dump(source []byte, level int) {
	ast.DumpHelper(b, source, level, nil, nil)
}

type legacyParser struct{}

func (legacyParser) Trigger() []byte { return []byte{'('} }

func (legacyParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, seg := block.PeekLine()
	if !bytes.HasPrefix(line, []byte(legacyOpen)) {
		return nil
	}
	n := legacyTokenLen(line)
	if n < 0 {
		return nil
	}
	return refNode(block, line[:n], seg.Start, FormLegacy)
}

// legacyTokenLen returns the length of the ((ref: ...)) token at the start of
// line, or -1. The closing )) is searched after the ]] of the target, and
// parentheses inside the anchor tail must balance, so "#Setup (v2)" stays
// part of the token.
func legacyTokenLen(line []byte) int {
	i := bytes.Index(line[len(legacyOpen):], []byte("]]"))
	if i < 0 {
		return -1
	}
	depth := 0
	for j := len(legacyOpen) + i + 2; j < len(line); j++ {
		switch line[j] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				if j+1 < len(line) && line[j+1] == ')' {
					return j + len(legacyClose)
				}
				return -1
			}
			depth--
		}
	}
	return -1
}

type embedParser struct{}

func (embedParser) Trigger() []byte { return []byte{'!'} }

func (embedParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, seg := block.PeekLine()
	if !bytes.HasPrefix(line, []byte(embedOpen)) {
		return nil
	}
	end := bytes.Index(line[len(embedOpen):], []byte("]]"))
	if end < 0 {
		return nil
	}
	return refNode(block, line[:len(embedOpen)+end+2], seg.Start, FormEmbed)
}

func refNode(block text.Reader, tok []byte, start int, form Form) ast.Node {
	ref, ok := ParseRef(string(tok), form)
	if !ok {
		return nil
	}
	block.Advance(len(tok))
	return &Node{Ref: ref, Segment: text.NewSegment(start, start+len(tok))}
}

type wikiLinkParser struct{}

func (wikiLinkParser) Trigger() []byte { return []byte{'['} }

func (wikiLinkParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, []byte("[[")) {
		return nil
	}
	end := bytes.Index(line[2:], []byte("]]"))
	if end < 0 {
		return nil
	}
	link, ok := parseWikiLink(string(line[2 : 2+end]))
	if !ok {
		return nil
	}
	block.Advance(end + 4)
	return &WikiLinkNode{Link: link}
}

type blockTransformer struct{}

func (blockTransformer) Transform(doc *ast.Document, reader text.Reader, _ parser.Context) {
	src := reader.Source()
	var paras []*ast.Paragraph
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if p, ok := n.(*ast.Paragraph); ok {
			if hasRef(p) {
				paras = append(paras, p)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	for _, p := range paras {
		splitParagraph(p, src)
	}
}

func hasRef(p *ast.Paragraph) bool {
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*Node); ok {
			return true
		}
	}
	return false
}

// splitParagraph moves the references of p into Blocks so portals never end
// up inside <p>. Text around them stays in paragraphs of its own.
func splitParagraph(p *ast.Paragraph, src []byte) {
	parent := p.Parent()
	var para *ast.Paragraph
	var blk *Block
	flush := func() {
		if para != nil && !blankInline(para, src) {
			parent.InsertBefore(parent, p, para)
		}
		para = nil
	}
	for c := p.FirstChild(); c != nil; {
		next := c.NextSibling()
		switch {
		case isRef(c):
			flush()
			if blk == nil {
				blk = &Block{}
				parent.InsertBefore(parent, p, blk)
			}
			blk.AppendChild(blk, c)
		case blk != nil && isBlank(c, src):
			// Whitespace between a reference and what follows.
		default:
			blk = nil
			if para == nil {
				para = ast.NewParagraph()
			}
			para.AppendChild(para, c)
		}
		c = next
	}
	flush()
	parent.RemoveChild(parent, p)
}

func isRef(n ast.Node) bool {
	_, ok := n.(*Node)
	return ok
}

func isBlank(n ast.Node, src []byte) bool {
	t, ok := n.(*ast.Text)
	return ok && len(bytes.TrimSpace(t.Segment.Value(src))) == 0
}

func blankInline(p *ast.Paragraph, src []byte) bool {
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		if !isBlank(c, src) {
			return false
		}
	}
	return true
}

// Extender plugs the reference syntax into a goldmark instance.
//
// Expand renders a reference to HTML; when it is nil, or Literal is set,
// references are written back as escaped source text. Link returns the href
// for a wikilink, or false when the target does not resolve.
type Extender struct {
	Legacy  bool
	Links   bool
	Literal bool
	Expand  func(Ref) string
	Link    func(WikiLink) (string, bool)
}

func (e *Extender) Extend(m goldmark.Markdown) {
	parsers := []util.PrioritizedValue{util.Prioritized(embedParser{}, parserPriority)}
	if e.Legacy {
		parsers = append(parsers, util.Prioritized(legacyParser{}, parserPriority))
	}
	if e.Links {
		parsers = append(parsers, util.Prioritized(wikiLinkParser{}, parserPriority))
	}
	m.Parser().AddOptions(parser.WithInlineParsers(parsers...))
	if e.Expand != nil && !e.Literal {
		m.Parser().AddOptions(parser.WithASTTransformers(util.Prioritized(blockTransformer{}, 999)))
	}
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(&nodeRenderer{ext: e}, parserPriority)))
}

type nodeRenderer struct {
	ext *Extender
}

func (r *nodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindNode, r.renderRef)
	reg.Register(KindWikiLink, r.renderWikiLink)
	reg.Register(KindBlock, r.renderBlock)
}

func (r *nodeRenderer) renderRef(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	node := n.(*Node)
	if r.ext.Literal || r.ext.Expand == nil {
		_, _ = w.Write(util.EscapeHTML([]byte(node.Ref.Raw)))
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(r.ext.Expand(node.Ref))
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderWikiLink(w util.BufWriter, _ []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	link := n.(*WikiLinkNode).Link
	label := util.EscapeHTML([]byte(link.Label))
	if r.ext.Link != nil {
		if href, ok := r.ext.Link(link); ok {
			_, _ = w.WriteString(`<a class="wikilink" href="`)
			_, _ = w.Write(util.EscapeHTML(util.URLEscape([]byte(href), true)))
			_, _ = w.WriteString(`">`)
			_, _ = w.Write(label)
			_, _ = w.WriteString("</a>")
			return ast.WalkContinue, nil
		}
	}
	_, _ = w.WriteString(`<span class="wikilink wikilink-missing">`)
	_, _ = w.Write(label)
	_, _ = w.WriteString("</span>")
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderBlock(w util.BufWriter, _ []byte, _ ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_ = w.WriteByte('\n')
	}
	return ast.WalkContinue, nil
}
