// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Portal compilation tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/portal/internal/apperr"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/noteservice"
	"github.com/starford/portal/internal/parser"
)

// Server wraps the MCP server with Portal tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all Portal tools registered.
func New(svc *noteservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Portal",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	destDesc := mcp.Description("Output destination: source, markdown, html or preview (default markdown)")

	s.mcp.AddTool(mcp.NewTool("compile_note",
		mcp.WithDescription("Compile a stored note, expanding every note reference it contains."),
		mcp.WithString("vault", mcp.Required(), mcp.Description("Vault of the note")),
		mcp.WithString("note", mcp.Required(), mcp.Description("Note name (journal.2024) or vault-relative path (journal/2024.md)")),
		mcp.WithString("dest", destDesc),
	), s.compileNote)

	s.mcp.AddTool(mcp.NewTool("compile_text",
		mcp.WithDescription("Compile unsaved Markdown as if it were a note of the given vault. "+
			"Read the reference syntax first via the get_reference_syntax tool or the "+
			ReferenceSyntaxURI+" resource."),
		mcp.WithString("vault", mcp.Required(), mcp.Description("Vault the text belongs to")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Markdown containing note references")),
		mcp.WithString("dest", destDesc),
	), s.compileText)

	s.mcp.AddTool(mcp.NewTool("resolve_reference",
		mcp.WithDescription("Resolve a single reference token such as ![[target#Heading]] and list the notes it matches."),
		mcp.WithString("ref", mcp.Required(), mcp.Description("Reference token")),
		mcp.WithString("vault", mcp.Description("Vault of the referencing note (optional)")),
	), s.resolveReference)

	s.mcp.AddTool(mcp.NewTool("goto_reference",
		mcp.WithDescription("Find the reference under a byte offset of a text and return the notes and lines it points at."),
		mcp.WithString("vault", mcp.Required(), mcp.Description("Vault the text belongs to")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Markdown text")),
		mcp.WithNumber("offset", mcp.Required(), mcp.Description("Byte offset inside text")),
	), s.gotoReference)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List indexed notes, optionally limited to one vault."),
		mcp.WithString("vault", mcp.Description("Optional vault to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_dependents",
		mcp.WithDescription("Find all notes that embed the specified note."),
		mcp.WithString("vault", mcp.Required(), mcp.Description("Vault of the note")),
		mcp.WithString("note", mcp.Required(), mcp.Description("Note name or vault-relative path")),
		mcp.WithBoolean("transitive", mcp.Description("Also include notes that embed it indirectly")),
	), s.getDependents)

	s.mcp.AddTool(mcp.NewTool("get_reference_syntax",
		mcp.WithDescription("Returns the Portal note reference syntax. "+
			"Call this before writing references for compile_text."),
	), s.getReferenceSyntax)

	// Resource: reference syntax.
	s.mcp.AddResource(
		mcp.NewResource(ReferenceSyntaxURI, "Note Reference Syntax",
			mcp.WithResourceDescription("Syntax and semantics of note references."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readReferenceSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError converts a service error into a tool error result.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrUnknownVault):
		return mcp.NewToolResultError("unknown vault: " + err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func noteKey(req mcp.CallToolRequest) (models.NoteKey, error) {
	vault, err := req.RequireString("vault")
	if err != nil {
		return models.NoteKey{}, err
	}
	note, err := req.RequireString("note")
	if err != nil {
		return models.NoteKey{}, err
	}
	if strings.HasSuffix(note, ".md") {
		note = parser.FnameFromPath(note)
	}
	return models.NoteKey{Vault: vault, Fname: note}, nil
}

func destination(req mcp.CallToolRequest) (noteref.Destination, error) {
	d := req.GetString("dest", "")
	if d == "" {
		return noteref.DestMarkdown, nil
	}
	return noteref.ParseDestination(d)
}

func (s *Server) compileNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := noteKey(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dest, err := destination(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Compile(ctx, key, dest)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(res.Output), nil
}

func (s *Server) compileText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vault, err := req.RequireString("vault")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dest, err := destination(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.CompileText(ctx, vault, text, dest)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) resolveReference(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("ref")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Resolve(ctx, token, req.GetString("vault", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) gotoReference(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vault, err := req.RequireString("vault")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	offset, err := req.RequireInt("offset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if offset < 0 || offset > len(text) {
		return mcp.NewToolResultError(fmt.Sprintf("offset %d out of range", offset)), nil
	}
	res, err := s.svc.Definition(ctx, vault, text, offset)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, _, err := s.svc.ListNotes(ctx, req.GetString("vault", ""), 0, 0)
	if err != nil {
		return toolError(err), nil
	}

	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Vault+"/"+it.Fname)
	}
	return mcp.NewToolResultText(strings.Join(keys, "\n")), nil
}

func (s *Server) getDependents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := noteKey(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var deps []models.NoteKey
	if req.GetBool("transitive", false) {
		deps, err = s.svc.StaleDependents(ctx, key)
	} else {
		deps, err = s.svc.Dependents(ctx, key)
	}
	if err != nil {
		return toolError(err), nil
	}
	if len(deps) == 0 {
		return mcp.NewToolResultText("no dependents found"), nil
	}
	lines := make([]string, 0, len(deps))
	for _, d := range deps {
		lines = append(lines, d.String())
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getReferenceSyntax(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ReferenceSyntax), nil
}

func (s *Server) readReferenceSyntaxResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ReferenceSyntaxURI,
			MIMEType: "text/markdown",
			Text:     ReferenceSyntax,
		},
	}, nil
}
