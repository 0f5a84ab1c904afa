package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/veil/internal/workspace"
)

// ListPanels handles GET /api/panels.
//
//	@Summary		List open panels
//	@Tags			panels
//	@Produce		json
//	@Success		200	{object}	PanelListResponse
//	@Security		BearerAuth
//	@Router			/panels [get]
func (h *Handler) ListPanels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PanelListResponse{Panels: h.deps.Panels.Panels()})
}

// OpenPanel handles POST /api/panels.
//
//	@Summary		Open a panel
//	@Tags			panels
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenPanelRequest	true	"Panel content"
//	@Success		201		{object}	workspace.PanelInfo
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/panels [post]
func (h *Handler) OpenPanel(w http.ResponseWriter, r *http.Request) {
	var req OpenPanelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	info, err := h.deps.Panels.Open(req)
	if err != nil {
		writeError(w, "open panel", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// SwitchPanel handles PUT /api/panels/{id}. It waits for the switch to
// settle and reports the switch's own error.
//
//	@Summary		Switch a panel's content
//	@Tags			panels
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Panel ID"
//	@Param			body	body		SwitchPanelRequest	true	"New content"
//	@Success		200		{object}	workspace.PanelInfo
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/panels/{id} [put]
func (h *Handler) SwitchPanel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SwitchPanelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := h.deps.Panels.Switch(ctx, id, req).Wait(ctx); err != nil {
		writeError(w, "switch panel", err)
		return
	}
	info, err := h.deps.Panels.Panel(id)
	if err != nil {
		writeError(w, "switch panel", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ActivatePanel handles POST /api/panels/{id}/activate.
//
//	@Summary		Mark a panel as active
//	@Tags			panels
//	@Param			id	path	string	true	"Panel ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/panels/{id}/activate [post]
func (h *Handler) ActivatePanel(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Panels.Activate(chi.URLParam(r, "id")); err != nil {
		writeError(w, "activate panel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClosePanel handles DELETE /api/panels/{id}.
//
//	@Summary		Close a panel
//	@Tags			panels
//	@Param			id	path	string	true	"Panel ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/panels/{id} [delete]
func (h *Handler) ClosePanel(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Panels.Close(chi.URLParam(r, "id")); err != nil {
		writeError(w, "close panel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var _ Panels = (*workspace.Workspace)(nil)
