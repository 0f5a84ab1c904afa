package api

import (
	"time"

	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

// LevelRequest is the request body for PUT /api/level.
type LevelRequest struct {
	Level string `json:"level" example:"hide-private" validate:"required"`
}

// LevelResponse reports the level in effect after a command.
type LevelResponse struct {
	Level visibility.Level `json:"level" example:"hide-all" validate:"required"`
}

// ActivityRequest is the optional body for POST /api/activity.
type ActivityRequest struct {
	Kind string `json:"kind" example:"pointer"`
}

// OpenPanelRequest is the request body for POST /api/panels.
type OpenPanelRequest = workspace.Target

// SwitchPanelRequest is the request body for PUT /api/panels/{id}.
type SwitchPanelRequest = workspace.Target

// PanelListResponse wraps the open panels.
type PanelListResponse struct {
	Panels []workspace.PanelInfo `json:"panels" validate:"required"`
}

// NoteListItem is one indexed note.
type NoteListItem struct {
	Path      string    `json:"path" example:"journal/2024-01-01.md" validate:"required"`
	Parent    string    `json:"parent" example:"journal"`
	Title     string    `json:"title" example:"New year"`
	Tags      []string  `json:"tags" example:"#private"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteListResponse wraps indexed notes.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}
