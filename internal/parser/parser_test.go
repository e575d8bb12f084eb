package parser

import (
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\nid: foo\ntitle: Hello\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if r.ID != "foo" {
		t.Errorf("id = %q, want %q", r.ID, "foo")
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
	if string(input[r.BodyOffset:]) != r.Body {
		t.Errorf("body offset %d does not point at body", r.BodyOffset)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "" {
		t.Errorf("title = %q, want empty (no declared title)", r.Title)
	}
	if r.Body != string(input) || r.BodyOffset != 0 {
		t.Errorf("body = %q offset = %d", r.Body, r.BodyOffset)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if r.Body != string(input) {
		t.Errorf("expected whole input as body, got %q", r.Body)
	}
}

func TestFnameFromPath(t *testing.T) {
	cases := map[string]string{
		"foo.md":                "foo",
		"foo.one.md":            "foo.one",
		"journal/2020.01.01.md": "journal.2020.01.01",
		"./a/b.md":              "a.b",
	}
	for in, want := range cases {
		if got := FnameFromPath(in); got != want {
			t.Errorf("FnameFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewNote_DefaultID(t *testing.T) {
	n, err := NewNote("main", "foo.md", []byte("foo body"))
	if err != nil {
		t.Fatalf("NewNote: %v", err)
	}
	if n.ID != "main/foo" {
		t.Errorf("id = %q, want main/foo", n.ID)
	}
	if n.DisplayTitle() != "foo" {
		t.Errorf("display title = %q, want foo", n.DisplayTitle())
	}
	if n.Checksum == "" {
		t.Error("expected checksum")
	}
}

func TestNewNote_TitleIgnoresHeadings(t *testing.T) {
	n, err := NewNote("main", "journal/2024.md", []byte("# Heading\nbody\n"))
	if err != nil {
		t.Fatalf("NewNote: %v", err)
	}
	if n.Title != "" {
		t.Errorf("title = %q, want empty", n.Title)
	}
	if n.DisplayTitle() != "journal.2024" {
		t.Errorf("display title = %q, want journal.2024", n.DisplayTitle())
	}

	n, err = NewNote("main", "foo.md", []byte("---\ntitle: Declared\n---\n# Heading\n"))
	if err != nil {
		t.Fatalf("NewNote: %v", err)
	}
	if n.DisplayTitle() != "Declared" {
		t.Errorf("display title = %q, want Declared", n.DisplayTitle())
	}
}
