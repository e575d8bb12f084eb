package mcpserver

// ReferenceSyntaxURI is the resource URI of ReferenceSyntax.
const ReferenceSyntaxURI = "portal://reference-syntax"

// ReferenceSyntax describes the note reference syntax that LLM consumers
// should use when asking Portal to compile or resolve references.
const ReferenceSyntax = `# Portal Note Reference Syntax

A note reference embeds all or part of another note. Compiling a note
replaces every reference with the referenced content, recursively.

## Forms

` + "```" + `markdown
![[target]]                       embed a whole note
![[target#Heading]]               embed the section under a heading
![[target#Start:#End]]            embed from one anchor up to the next
![[vault/target]]                 look the note up in a specific vault
((ref: [[target]]#Heading))       legacy form, same meaning
` + "```" + `

The legacy form is only recognized when ` + "`" + `noteref.legacy_reference_syntax` + "`" + `
is enabled.

## Targets

- A target is a note name: the vault-relative path without ` + "`" + `.md` + "`" + `, with
  directories joined by dots (` + "`" + `journal/2024.md` + "`" + ` is ` + "`" + `journal.2024` + "`" + `).
- ` + "`" + `*` + "`" + ` matches any run of characters, dots included:
  ` + "`" + `![[journal.*]]` + "`" + ` embeds every journal note, ordered by name.
- An unqualified target is looked up in the current vault first, then in
  every vault. A name found in several other vaults is ambiguous.
- A target may also be a front-matter ` + "`" + `id` + "`" + `.

## Anchors

| Anchor | Meaning |
|---|---|
| ` + "`" + `#Heading` + "`" + ` | the heading (exact, case-insensitive or slug match) and its section |
| ` + "`" + `#^block-id` + "`" + ` | the paragraph or list item ending with ` + "`" + `^block-id` + "`" + ` |
| ` + "`" + `#L12` + "`" + ` | line 12 of the note body |
| ` + "`" + `#*` + "`" + ` | start of body as a start anchor, end of note as an end anchor |

An end heading is exclusive; end block ids and end lines are inclusive.

## Destinations

- ` + "`" + `source` + "`" + `: references are left exactly as written.
- ` + "`" + `markdown` + "`" + `: references are replaced by the embedded markdown; headings
  are deepened to sit below the surrounding section.
- ` + "`" + `html` + "`" + `: rendered HTML with ` + "`" + `portal-container` + "`" + ` wrappers.
- ` + "`" + `preview` + "`" + `: markdown with the same wrappers, for live preview.

## Failures

Unresolvable, ambiguous or anchor-less references compile to a visible
placeholder instead of failing the note. A reference back to a note that
is already being expanded, or beyond the depth limit, is embedded as plain
text without further expansion.
`
