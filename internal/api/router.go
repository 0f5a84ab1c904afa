package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(deps Deps, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(deps)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Level and commands.
	r.Get("/level", h.GetLevel)
	r.Put("/level", h.SetLevel)
	r.Post("/commands/{command}", h.RunCommand)

	// Idle lock.
	r.Post("/activity", h.Activity)

	// Settings.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	// Panels.
	r.Get("/panels", h.ListPanels)
	r.Post("/panels", h.OpenPanel)
	r.Put("/panels/{id}", h.SwitchPanel)
	r.Post("/panels/{id}/activate", h.ActivatePanel)
	r.Delete("/panels/{id}", h.ClosePanel)

	// Style output and state.
	r.Get("/style", h.GetStyle)
	r.Get("/style.css", h.GetStylesheet)
	r.Get("/state", h.GetState)
	r.Get("/visibility", h.NoteVisibility)
	r.Get("/notes", h.ListNotes)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
