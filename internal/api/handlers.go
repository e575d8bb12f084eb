package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/portal/internal/models"
	"github.com/starford/portal/internal/noteref"
	"github.com/starford/portal/internal/noteservice"
	"github.com/starford/portal/internal/parser"
	"github.com/starford/portal/internal/storage"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc        *noteservice.Service
	publishDir string
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service, publishDir string) *Handler {
	return &Handler{svc: svc, publishDir: publishDir}
}

// noteKey extracts the note key from the URL: the {vault} segment and the
// remainder, given either as a note name ("journal.2024") or as a
// vault-relative path ("journal/2024.md"). Encoded slashes are accepted.
func noteKey(r *http.Request) (models.NoteKey, bool) {
	vault := chi.URLParam(r, "vault")
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	if vault == "" || raw == "" {
		return models.NoteKey{}, false
	}
	fname := raw
	if strings.HasSuffix(raw, ".md") {
		fname = parser.FnameFromPath(raw)
	}
	return models.NoteKey{Vault: vault, Fname: fname}, true
}

// destination parses a destination name, defaulting to markdown.
func destination(s string) (noteref.Destination, error) {
	if s == "" {
		return noteref.DestMarkdown, nil
	}
	return noteref.ParseDestination(s)
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with optional pagination
//	@Tags			notes
//	@Produce		json
//	@Param			vault	query		string	false	"Restrict to one vault"
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListNotes(r.Context(), q.Get("vault"), limit, offset)
	if err != nil {
		writeServiceError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/{vault}/*.
//
//	@Summary		Get a single note
//	@Tags			notes
//	@Produce		json
//	@Param			vault	path		string	true	"Vault name"
//	@Param			note	path		string	true	"Note name or path"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{vault}/{note} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	key, ok := noteKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("vault and note are required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), key)
	if err != nil {
		writeServiceError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Dependents handles GET /api/dependents/{vault}/*.
//
//	@Summary		List notes that reference a note
//	@Tags			notes
//	@Produce		json
//	@Param			vault		path		string	true	"Vault name"
//	@Param			note		path		string	true	"Note name or path"
//	@Param			transitive	query		bool	false	"Follow references transitively"
//	@Success		200			{object}	DependentsResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dependents/{vault}/{note} [get]
func (h *Handler) Dependents(w http.ResponseWriter, r *http.Request) {
	key, ok := noteKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("vault and note are required"))
		return
	}
	transitive, _ := strconv.ParseBool(r.URL.Query().Get("transitive"))

	var deps []models.NoteKey
	var err error
	if transitive {
		deps, err = h.svc.StaleDependents(r.Context(), key)
	} else {
		deps, err = h.svc.Dependents(r.Context(), key)
	}
	if err != nil {
		writeServiceError(w, "dependents", err)
		return
	}
	writeJSON(w, http.StatusOK, DependentsResponse{Note: key, Transitive: transitive, Dependents: deps})
}

// CompileNote handles GET /api/compile/{vault}/*.
//
//	@Summary		Compile a stored note
//	@Tags			compile
//	@Produce		json
//	@Param			vault	path		string	true	"Vault name"
//	@Param			note	path		string	true	"Note name or path"
//	@Param			dest	query		string	false	"Destination"	Enums(source, markdown, html, preview)
//	@Success		200		{object}	CompileResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/compile/{vault}/{note} [get]
func (h *Handler) CompileNote(w http.ResponseWriter, r *http.Request) {
	key, ok := noteKey(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("vault and note are required"))
		return
	}
	dest, err := destination(r.URL.Query().Get("dest"))
	if err != nil {
		writeServiceError(w, "compile note", err)
		return
	}
	res, err := h.svc.Compile(r.Context(), key, dest)
	if err != nil {
		writeServiceError(w, "compile note", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CompileText handles POST /api/compile.
//
//	@Summary		Compile an unsaved buffer
//	@Tags			compile
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CompileTextRequest	true	"Buffer to compile"
//	@Success		200		{object}	CompileTextResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/compile [post]
func (h *Handler) CompileText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CompileTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Vault == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("vault is required"))
		return
	}
	dest, err := destination(req.Dest)
	if err != nil {
		writeServiceError(w, "compile text", err)
		return
	}
	out, err := h.svc.CompileText(r.Context(), req.Vault, req.Text, dest)
	if err != nil {
		writeServiceError(w, "compile text", err)
		return
	}
	writeJSON(w, http.StatusOK, CompileTextResponse{Dest: dest.String(), Output: out})
}

// Publish handles POST /api/publish.
//
//	@Summary		Compile every note into the publish directory or a subdirectory of it
//	@Tags			compile
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PublishRequest	true	"Publish options"
//	@Success		200		{object}	PublishResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	dest, err := destination(req.Dest)
	if err != nil {
		writeServiceError(w, "publish", err)
		return
	}
	if h.publishDir == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("publishing is not configured"))
		return
	}
	// output_dir may only name a subdirectory of the configured publish root.
	outDir, err := storage.Within(h.publishDir, req.OutputDir)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("output_dir must be a relative path inside the publish directory"))
		return
	}
	res, err := h.svc.Publish(r.Context(), dest, outDir)
	if err != nil {
		writeServiceError(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Resolve handles GET /api/resolve.
//
//	@Summary		Resolve a single reference token
//	@Tags			references
//	@Produce		json
//	@Param			ref		query		string	true	"Reference token"
//	@Param			vault	query		string	false	"Vault of the referencing note"
//	@Success		200		{object}	ResolveResult
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resolve [get]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("ref")
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'ref' is required"))
		return
	}
	res, err := h.svc.Resolve(r.Context(), token, q.Get("vault"))
	if err != nil {
		writeServiceError(w, "resolve", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Definition handles POST /api/definition.
//
//	@Summary		Locate the target of the reference under an offset
//	@Tags			references
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DefinitionRequest	true	"Buffer and byte offset"
//	@Success		200		{object}	DefinitionResult
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/definition [post]
func (h *Handler) Definition(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req DefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Vault == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("vault is required"))
		return
	}
	if req.Offset < 0 || req.Offset > len(req.Text) {
		writeJSON(w, http.StatusBadRequest, errorBody("offset out of range"))
		return
	}
	res, err := h.svc.Definition(r.Context(), req.Vault, req.Text, req.Offset)
	if err != nil {
		writeServiceError(w, "definition", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
