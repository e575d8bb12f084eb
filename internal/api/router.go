package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/portal/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// publishDir is the output directory used when a publish request names none.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler, publishDir string) chi.Router {
	h := NewHandler(svc, publishDir)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes.
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/{vault}/*", h.GetNote)
	r.Get("/dependents/{vault}/*", h.Dependents)

	// Compilation.
	r.Get("/compile/{vault}/*", h.CompileNote)
	r.Post("/compile", h.CompileText)
	r.Post("/publish", h.Publish)

	// Reference tooling.
	r.Get("/resolve", h.Resolve)
	r.Post("/definition", h.Definition)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
