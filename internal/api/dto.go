package api

import (
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteservice"
)

// CompileTextRequest is the request body for compiling an unsaved buffer.
type CompileTextRequest struct {
	Vault string `json:"vault" example:"main" validate:"required"`
	Text  string `json:"text" example:"![[todo#Today]]" validate:"required"`
	Dest  string `json:"dest" example:"preview" enums:"source,markdown,html,preview"`
}

// CompileTextResponse wraps the compiled buffer.
type CompileTextResponse struct {
	Dest   string `json:"dest" example:"preview" validate:"required"`
	Output string `json:"output" validate:"required"`
}

// PublishRequest is the request body for a publish run.
type PublishRequest struct {
	Dest      string `json:"dest" example:"html" enums:"source,markdown,html,preview"`
	// OutputDir is a subdirectory of publish.output_dir; empty means the root itself.
	OutputDir string `json:"output_dir,omitempty" example:"v2"`
}

// DefinitionRequest is the request body for go-to-reference.
type DefinitionRequest struct {
	Vault  string `json:"vault" example:"main" validate:"required"`
	Text   string `json:"text" validate:"required"`
	Offset int    `json:"offset" example:"12"`
}

// DependentsResponse lists the notes that reference a note.
type DependentsResponse struct {
	Note       models.NoteKey   `json:"note" validate:"required"`
	Transitive bool             `json:"transitive"`
	Dependents []models.NoteKey `json:"dependents" validate:"required"`
}

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response (aliased from the domain layer).
type NoteListItem = noteservice.NoteListItem

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// CompileResult is the compiled note response type.
type CompileResult = noteservice.CompileResult

// ResolveResult is the reference resolution response type.
type ResolveResult = noteservice.ResolveResult

// DefinitionResult is the go-to-reference response type.
type DefinitionResult = noteservice.DefinitionResult

// PublishResult is the publish run response type.
type PublishResult = noteservice.PublishResult
