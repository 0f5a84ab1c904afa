// Package models defines the vault types shared by storage and index.
package models

import "time"

// NoteMetadata is what a directory walk knows about a note without parsing it.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
