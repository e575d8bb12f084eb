package noteref

import (
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
)

// Render writes a fragment for dest. Each destination is a separate pure
// function of the fragment and the options.
func Render(f Fragment, dest Destination, opts Options) string {
	if f.Kind == FragmentRaw {
		return f.Ref.Raw
	}
	switch dest {
	case DestMarkdown:
		return renderMarkdown(f)
	case DestHTML:
		return renderHTMLFragment(f, opts)
	case DestPreview:
		return renderPreview(f, opts)
	default:
		return f.Ref.Raw
	}
}

func renderMarkdown(f Fragment) string {
	if f.Kind == FragmentPlaceholder {
		return markdownPlaceholder(f.Ref, f.Err)
	}
	parts := make([]string, 0, len(f.Embeds))
	for _, em := range f.Embeds {
		if em.Err != nil {
			parts = append(parts, markdownPlaceholder(f.Ref, em.Err))
			continue
		}
		parts = append(parts, shiftHeadings(em.Body, f.Level))
	}
	return joinBlocks(parts)
}

func renderPreview(f Fragment, opts Options) string {
	if f.Kind == FragmentPlaceholder {
		return markdownPlaceholder(f.Ref, f.Err)
	}
	parts := make([]string, 0, len(f.Embeds))
	for _, em := range f.Embeds {
		var b strings.Builder
		b.WriteString("\n")
		writePortalHead(&b, em, opts)
		b.WriteString(`<div class="portal-parent" markdown="1">` + "\n\n")
		if em.Title != "" {
			b.WriteString("# " + em.Title + "\n\n")
		}
		if em.Err != nil {
			b.WriteString(markdownPlaceholder(f.Ref, em.Err))
		} else {
			b.WriteString(em.Body)
		}
		b.WriteString("\n\n</div>\n</div>\n")
		parts = append(parts, b.String())
	}
	return joinBlocks(parts)
}

func renderHTMLFragment(f Fragment, opts Options) string {
	if f.Kind == FragmentPlaceholder {
		return `<div class="portal-error">` + html.EscapeString(placeholderText(f.Ref, f.Err)) + "</div>\n"
	}
	var b strings.Builder
	for _, em := range f.Embeds {
		writePortalHead(&b, em, opts)
		b.WriteString(`<div class="portal-parent">` + "\n")
		if em.Title != "" {
			b.WriteString("<h1>" + html.EscapeString(em.Title) + "</h1>\n")
		}
		if em.Err != nil {
			b.WriteString(`<div class="portal-error">` + html.EscapeString(placeholderText(f.Ref, em.Err)) + "</div>\n")
		} else {
			b.WriteString(em.Body)
		}
		b.WriteString("</div>\n</div>\n")
	}
	return b.String()
}

func writePortalHead(b *strings.Builder, em Embed, opts Options) {
	class := "portal-container"
	if em.Leaf {
		class += " portal-leaf"
	}
	fmt.Fprintf(b, `<div class="%s" data-note="%s">`+"\n", class, html.EscapeString(em.Note.ID))
	b.WriteString(`<div class="portal-head">` + "\n")
	fmt.Fprintf(b, `<div class="portal-title">From <span class="portal-text-title">%s</span></div>`+"\n",
		html.EscapeString(em.Note.DisplayTitle()))
	fmt.Fprintf(b, `<a class="portal-arrow" href="%s">Go to text</a>`+"\n",
		html.EscapeString(opts.LinkPrefix+em.Note.ID))
	b.WriteString("</div>\n")
}

// placeholderText describes a failed reference in plain text.
func placeholderText(ref Ref, err error) string {
	var amb *AmbiguousError
	var anchor *AnchorError
	switch {
	case errors.As(err, &amb):
		return fmt.Sprintf("ambiguous note reference %s: matches %s", ref.QualifiedTarget(), strings.Join(amb.Candidates, ", "))
	case errors.As(err, &anchor):
		return fmt.Sprintf("anchor %s not found in %s", anchor.Anchor.String(), anchor.Note)
	default:
		return "note reference could not be resolved: " + ref.QualifiedTarget()
	}
}

// markdownPlaceholder is inline-safe so it can replace a reference in a paragraph.
func markdownPlaceholder(ref Ref, err error) string {
	var amb *AmbiguousError
	var anchor *AnchorError
	switch {
	case errors.As(err, &amb):
		cands := make([]string, 0, len(amb.Candidates))
		for _, c := range amb.Candidates {
			cands = append(cands, "`"+c+"`")
		}
		return fmt.Sprintf("**ambiguous note reference:** `%s` matches %s", ref.QualifiedTarget(), strings.Join(cands, ", "))
	case errors.As(err, &anchor):
		return fmt.Sprintf("**anchor not found:** `%s` in `%s`", anchor.Anchor.String(), anchor.Note)
	default:
		return fmt.Sprintf("**note reference could not be resolved:** `%s`", ref.QualifiedTarget())
	}
}

// joinBlocks separates parts with a blank line.
func joinBlocks(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			if !strings.HasSuffix(parts[i-1], "\n") {
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return b.String()
}

// shiftHeadings deepens the headings of body so the shallowest one sits one
// level below insertLevel. Levels are clamped to 6. Setext headings are
// rewritten as ATX headings since underlines only express levels 1 and 2.
// Headings inside containers (block quotes, list items) are left alone.
func shiftHeadings(body string, insertLevel int) string {
	if insertLevel == 0 {
		return body
	}
	src := []byte(body)
	type target struct {
		heading
		marker int
	}
	var hs []target
	shallowest := 7
	for _, h := range newOutline(src).headings {
		t := target{heading: h}
		if !h.setext {
			start, ok := atxMarker(src, h.start, h.level)
			if !ok {
				continue
			}
			t.marker = start
		}
		hs = append(hs, t)
		shallowest = min(shallowest, h.level)
	}
	delta := insertLevel + 1 - shallowest
	if len(hs) == 0 || delta <= 0 {
		return body
	}
	edits := make([]edit, 0, len(hs))
	for _, h := range hs {
		marker := strings.Repeat("#", min(h.level+delta, 6))
		if h.setext {
			edits = append(edits, edit{
				start: h.start,
				stop:  h.stop,
				text:  marker + " " + strings.Join(strings.Fields(h.text), " ") + "\n",
			})
			continue
		}
		edits = append(edits, edit{start: h.marker, stop: h.marker + h.level, text: marker})
	}
	return string(applyEdits(src, edits))
}

// atxMarker returns the offset of the '#' run of an ATX heading starting at
// line offset start.
func atxMarker(src []byte, start, level int) (int, bool) {
	i := start
	for i < len(src) && i-start < 3 && src[i] == ' ' {
		i++
	}
	run := 0
	for i+run < len(src) && src[i+run] == '#' {
		run++
	}
	if run != level {
		return 0, false
	}
	if j := i + run; j < len(src) && src[j] != ' ' && src[j] != '\t' && src[j] != '\n' && src[j] != '\r' {
		return 0, false
	}
	return i, true
}

// edit replaces src[start:stop] with text.
type edit struct {
	start int
	stop  int
	text  string
}

// applyEdits applies non-overlapping edits given as offsets into src.
func applyEdits(src []byte, edits []edit) []byte {
	if len(edits) == 0 {
		return src
	}
	sorted := make([]edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	out := make([]byte, 0, len(src))
	pos := 0
	for _, e := range sorted {
		out = append(out, src[pos:e.start]...)
		out = append(out, e.text...)
		pos = e.stop
	}
	return append(out, src[pos:]...)
}
