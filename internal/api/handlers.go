package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/starford/veil/internal/apperr"
	"github.com/starford/veil/internal/controller"
	"github.com/starford/veil/internal/index"
	"github.com/starford/veil/internal/prefs"
	"github.com/starford/veil/internal/style"
	"github.com/starford/veil/internal/task"
	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

// Session is the visibility session the API drives.
type Session interface {
	Level() visibility.Level
	Settings() visibility.Settings
	SetLevel(level visibility.Level) error
	ModifySettings(fn func(visibility.Settings) visibility.Settings) (visibility.Settings, error)
	Snapshot() (controller.State, error)
	Explain(path string, level *visibility.Level) controller.NoteDecision
}

// Panels is the panel host.
type Panels interface {
	Panels() []workspace.PanelInfo
	Panel(id string) (workspace.PanelInfo, error)
	Open(target workspace.Target) (workspace.PanelInfo, error)
	Activate(id string) error
	Close(id string) error
	Switch(ctx context.Context, id string, target workspace.Target) *task.Task
}

// Styles serves the latest projected directives.
type Styles interface {
	Current() style.Directives
	Stylesheet() string
}

// SettingsStore persists settings.
type SettingsStore interface {
	Save(s visibility.Settings) error
}

// ActivityTracker records user activity for the idle lock.
type ActivityTracker interface {
	Touch()
}

// NoteLister lists indexed notes.
type NoteLister interface {
	ListNotes(folder string) ([]index.NoteRow, error)
}

// Deps are the collaborators behind the API.
type Deps struct {
	Session  Session
	Panels   Panels
	Styles   Styles
	Prefs    SettingsStore
	Activity ActivityTracker
	Notes    NoteLister
}

// Handler holds API route handlers.
type Handler struct {
	deps Deps

	// saveMu keeps settings file writes in the order the edits were applied.
	saveMu sync.Mutex
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidTarget), errors.Is(err, apperr.ErrInvalidLevel):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrClosed):
		writeJSON(w, http.StatusConflict, errorBody("closed"))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("request cancelled"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return false
	}
	return true
}

// RunCommand handles POST /api/commands/{command}.
//
//	@Summary		Run one of the four visibility commands
//	@Tags			level
//	@Produce		json
//	@Param			command	path		string	true	"Command"	Enums(hide-all, hide-private, reveal-headlines-only, reveal-all)
//	@Success		200		{object}	LevelResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/commands/{command} [post]
func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	level, err := visibility.ParseLevel(chi.URLParam(r, "command"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("unknown command"))
		return
	}
	h.setLevel(w, level)
}

// SetLevel handles PUT /api/level.
//
//	@Summary		Set the global visibility level
//	@Tags			level
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LevelRequest	true	"Level"
//	@Success		200		{object}	LevelResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/level [put]
func (h *Handler) SetLevel(w http.ResponseWriter, r *http.Request) {
	var req LevelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	level, err := visibility.ParseLevel(req.Level)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	h.setLevel(w, level)
}

func (h *Handler) setLevel(w http.ResponseWriter, level visibility.Level) {
	// Level changes count as user activity for the idle lock.
	if h.deps.Activity != nil {
		h.deps.Activity.Touch()
	}
	if err := h.deps.Session.SetLevel(level); err != nil {
		writeError(w, "set level", err)
		return
	}
	writeJSON(w, http.StatusOK, LevelResponse{Level: h.deps.Session.Level()})
}

// GetLevel handles GET /api/level.
//
//	@Summary		Current visibility level
//	@Tags			level
//	@Produce		json
//	@Success		200	{object}	LevelResponse
//	@Security		BearerAuth
//	@Router			/level [get]
func (h *Handler) GetLevel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LevelResponse{Level: h.deps.Session.Level()})
}

// Activity handles POST /api/activity.
//
//	@Summary		Report pointer or key activity
//	@Tags			activity
//	@Accept			json
//	@Param			body	body	ActivityRequest	false	"Activity kind"
//	@Success		204
//	@Security		BearerAuth
//	@Router			/activity [post]
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	// The body is informational only.
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4<<10))
	if h.deps.Activity != nil {
		h.deps.Activity.Touch()
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Current settings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	prefs.Record
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, prefs.FromSettings(h.deps.Session.Settings()))
}

// UpdateSettings handles PUT /api/settings. Fields left out of the body keep
// their current values.
//
//	@Summary		Update settings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		prefs.Record	true	"Partial settings"
//	@Success		200		{object}	prefs.Record
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	rec, err := prefs.DecodeJSON(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return
	}
	if err := rec.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	h.saveMu.Lock()
	defer h.saveMu.Unlock()

	merged, err := h.deps.Session.ModifySettings(rec.Apply)
	if err != nil {
		writeError(w, "update settings", err)
		return
	}
	if h.deps.Prefs != nil {
		if err := h.deps.Prefs.Save(merged); err != nil {
			writeError(w, "save settings", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, prefs.FromSettings(merged))
}

// GetStyle handles GET /api/style.
//
//	@Summary		Current style directives
//	@Tags			style
//	@Produce		json
//	@Success		200	{object}	style.Directives
//	@Security		BearerAuth
//	@Router			/style [get]
func (h *Handler) GetStyle(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Styles.Current())
}

// GetStylesheet handles GET /api/style.css.
//
//	@Summary		Stylesheet for the current settings
//	@Tags			style
//	@Produce		text/css
//	@Success		200	{string}	string
//	@Security		BearerAuth
//	@Router			/style.css [get]
func (h *Handler) GetStylesheet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, h.deps.Styles.Stylesheet())
}

// GetState handles GET /api/state.
//
//	@Summary		Session snapshot
//	@Tags			state
//	@Produce		json
//	@Success		200	{object}	controller.State
//	@Security		BearerAuth
//	@Router			/state [get]
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	st, err := h.deps.Session.Snapshot()
	if err != nil {
		writeError(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// NoteVisibility handles GET /api/visibility?path=...&level=....
//
//	@Summary		How a note would render
//	@Tags			state
//	@Produce		json
//	@Param			path	query		string	true	"Note path"
//	@Param			level	query		string	false	"Level to evaluate under"
//	@Success		200		{object}	controller.NoteDecision
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/visibility [get]
func (h *Handler) NoteVisibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var level *visibility.Level
	if raw := q.Get("level"); raw != "" {
		l, err := visibility.ParseLevel(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		level = &l
	}
	writeJSON(w, http.StatusOK, h.deps.Session.Explain(path, level))
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List indexed notes with their tags
//	@Tags			notes
//	@Produce		json
//	@Param			folder	query		string	false	"Folder prefix"
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	if h.deps.Notes == nil {
		writeJSON(w, http.StatusOK, NoteListResponse{Notes: []NoteListItem{}})
		return
	}
	rows, err := h.deps.Notes.ListNotes(r.URL.Query().Get("folder"))
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	items := make([]NoteListItem, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		tags := make([]string, 0, len(row.BodyTags)+len(row.FrontmatterTags))
		tags = append(tags, row.FrontmatterTags...)
		for _, t := range row.BodyTags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
		items = append(items, NoteListItem{
			Path:      row.Path,
			Parent:    row.Parent,
			Title:     row.Title,
			Tags:      tags,
			UpdatedAt: row.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}
