// Package noteref resolves note references embedded in markdown and expands
// them into source, standalone markdown, HTML or live-preview output.
//
// Two reference forms are recognized:
//
//	((ref: [[vault/name]]#start:#end))   legacy form, see Options.LegacySyntax
//	![[vault/name#start:#end]]           embed form
//
// The vault qualifier and both anchors are optional. A target containing
// '*' is a wildcard and may match several notes.
package noteref

import (
	"strconv"
	"strings"
)

// Form is the syntax a reference was written in.
type Form int

const (
	FormLegacy Form = iota
	FormEmbed
)

// AnchorKind classifies an anchor expression.
type AnchorKind int

const (
	AnchorHeading AnchorKind = iota
	AnchorBlockID
	AnchorWildcard
	AnchorLine
)

// Anchor delimits one end of the range embedded from a note.
type Anchor struct {
	Kind  AnchorKind
	Value string
	Line  int
}

func (a Anchor) String() string {
	switch a.Kind {
	case AnchorBlockID:
		return "#^" + a.Value
	case AnchorWildcard:
		return "#*"
	case AnchorLine:
		return "#L" + strconv.Itoa(a.Line)
	default:
		return "#" + a.Value
	}
}

// parseAnchor turns the text after '#' into an Anchor.
func parseAnchor(s string) (Anchor, bool) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Anchor{}, false
	case s == "*":
		return Anchor{Kind: AnchorWildcard}, true
	case strings.HasPrefix(s, "^"):
		id := s[1:]
		if id == "" || strings.ContainsAny(id, " \t") {
			return Anchor{}, false
		}
		return Anchor{Kind: AnchorBlockID, Value: id}, true
	case len(s) > 1 && s[0] == 'L':
		if n, err := strconv.Atoi(s[1:]); err == nil {
			if n < 1 {
				return Anchor{}, false
			}
			return Anchor{Kind: AnchorLine, Line: n}, true
		}
	}
	return Anchor{Kind: AnchorHeading, Value: s}, true
}

// Ref is a scanned note reference. It is immutable once scanned.
type Ref struct {
	// Raw is the token exactly as written in the source.
	Raw    string
	Target string
	Vault  string
	Start  *Anchor
	End    *Anchor
	// Wildcard is set when Target contains '*'.
	Wildcard bool
	Form     Form
}

// QualifiedTarget returns the target with its vault prefix, as written.
func (r Ref) QualifiedTarget() string {
	if r.Vault == "" {
		return r.Target
	}
	return r.Vault + "/" + r.Target
}

// ParseRef parses a complete reference token. Malformed tokens return false;
// callers keep them as plain text.
func ParseRef(token string, form Form) (Ref, bool) {
	var target, anchors string
	var hasAnchors bool
	switch form {
	case FormLegacy:
		inner, ok := strings.CutPrefix(token, legacyOpen)
		if !ok {
			return Ref{}, false
		}
		inner, ok = strings.CutSuffix(inner, legacyClose)
		if !ok {
			return Ref{}, false
		}
		inner = strings.TrimSpace(inner)
		inner, ok = strings.CutPrefix(inner, "[[")
		if !ok {
			return Ref{}, false
		}
		end := strings.Index(inner, "]]")
		if end < 0 {
			return Ref{}, false
		}
		target, anchors = inner[:end], strings.TrimSpace(inner[end+2:])
		if anchors != "" {
			if anchors[0] != '#' {
				return Ref{}, false
			}
			anchors, hasAnchors = anchors[1:], true
		}
	case FormEmbed:
		inner, ok := strings.CutPrefix(token, embedOpen)
		if !ok {
			return Ref{}, false
		}
		inner, ok = strings.CutSuffix(inner, "]]")
		if !ok {
			return Ref{}, false
		}
		target, anchors, hasAnchors = strings.Cut(inner, "#")
	default:
		return Ref{}, false
	}

	target = strings.TrimSuffix(strings.TrimSpace(target), ".md")
	if target == "" || strings.ContainsAny(target, "[]|\n") {
		return Ref{}, false
	}
	ref := Ref{Raw: token, Form: form}
	if vault, name, ok := strings.Cut(target, "/"); ok {
		if vault == "" || name == "" {
			return Ref{}, false
		}
		ref.Vault, target = vault, name
	}
	ref.Target = target
	ref.Wildcard = strings.Contains(target, "*")

	if hasAnchors {
		start, end, hasEnd := strings.Cut(anchors, ":#")
		a, ok := parseAnchor(start)
		if !ok {
			return Ref{}, false
		}
		ref.Start = &a
		if hasEnd {
			b, ok := parseAnchor(end)
			if !ok {
				return Ref{}, false
			}
			ref.End = &b
		}
	}
	return ref, true
}

// WikiLink is a plain [[label|target#anchor]] link.
type WikiLink struct {
	Label  string
	Target string
	Anchor string
}

func parseWikiLink(inner string) (WikiLink, bool) {
	if inner == "" || strings.ContainsAny(inner, "[]\n") {
		return WikiLink{}, false
	}
	var l WikiLink
	label, rest, hasLabel := strings.Cut(inner, "|")
	if !hasLabel {
		rest = label
		label = ""
	}
	l.Target, l.Anchor, _ = strings.Cut(rest, "#")
	l.Target = strings.TrimSpace(l.Target)
	l.Anchor = strings.TrimSpace(l.Anchor)
	l.Label = strings.TrimSpace(label)
	if l.Target == "" {
		return WikiLink{}, false
	}
	if l.Label == "" {
		l.Label = l.Target
	}
	return l, true
}
