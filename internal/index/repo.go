package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/veil/internal/apperr"
	"github.com/starford/veil/internal/visibility"
)

// NoteRow represents a row in the notes table.
type NoteRow struct {
	Path            string
	Parent          string
	Title           string
	Checksum        string
	BodyTags        []string
	FrontmatterTags []string // nil when the note has no frontmatter tag field
	Headings        []string
	UpdatedAt       time.Time
}

// TagSet returns the union of body and frontmatter tags.
func (n *NoteRow) TagSet() visibility.TagSet {
	if n == nil {
		return visibility.TagSet{}
	}
	return visibility.NewTagSet(n.BodyTags, n.FrontmatterTags)
}

// ParentOf returns the folder of a vault-relative note path, "" for the root.
func ParentOf(notePath string) string {
	dir := path.Dir(strings.TrimPrefix(notePath, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// UpsertNote inserts or replaces a note row.
func (db *DB) UpsertNote(n NoteRow) error {
	bodyJSON, _ := json.Marshal(nonNil(n.BodyTags))
	headingsJSON, _ := json.Marshal(nonNil(n.Headings))

	var fmTags sql.NullString
	if n.FrontmatterTags != nil {
		raw, _ := json.Marshal(n.FrontmatterTags)
		fmTags = sql.NullString{String: string(raw), Valid: true}
	}

	if n.Parent == "" {
		n.Parent = ParentOf(n.Path)
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now()
	}

	_, err := db.conn.Exec(`
		INSERT INTO notes (path, parent, title, checksum, body_tags, frontmatter_tags, headings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			parent           = excluded.parent,
			title            = excluded.title,
			checksum         = excluded.checksum,
			body_tags        = excluded.body_tags,
			frontmatter_tags = excluded.frontmatter_tags,
			headings         = excluded.headings,
			updated_at       = excluded.updated_at
	`, n.Path, n.Parent, n.Title, n.Checksum, string(bodyJSON), fmTags, string(headingsJSON), n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}
	return nil
}

// DeleteNote removes a note row.
func (db *DB) DeleteNote(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path → checksum for every indexed note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

const selectNote = `SELECT path, parent, title, checksum, body_tags, frontmatter_tags, headings, updated_at FROM notes`

// Note returns the metadata of one note, or apperr.ErrNotFound.
func (db *DB) Note(path string) (*NoteRow, error) {
	row := db.conn.QueryRow(selectNote+` WHERE path = ?`, path)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: note %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: note %s: %w", path, err)
	}
	return n, nil
}

// ListNotes returns notes whose parent folder starts with folder, ordered by
// path. An empty folder lists everything.
func (db *DB) ListNotes(folder string) ([]NoteRow, error) {
	folder = strings.Trim(folder, "/")
	query := selectNote + ` ORDER BY path`
	args := []any{}
	if folder != "" {
		query = selectNote + ` WHERE parent = ? OR parent LIKE ? ESCAPE '\' ORDER BY path`
		args = append(args, folder, escapeLike(folder)+"/%")
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*NoteRow, error) {
	var (
		n                  NoteRow
		bodyTags, headings string
		fmTags             sql.NullString
	)
	if err := s.Scan(&n.Path, &n.Parent, &n.Title, &n.Checksum, &bodyTags, &fmTags, &headings, &n.UpdatedAt); err != nil {
		return nil, err
	}
	// Corrupt JSON degrades to empty lists; metadata is advisory.
	_ = json.Unmarshal([]byte(bodyTags), &n.BodyTags)
	_ = json.Unmarshal([]byte(headings), &n.Headings)
	if fmTags.Valid {
		n.FrontmatterTags = []string{}
		_ = json.Unmarshal([]byte(fmTags.String), &n.FrontmatterTags)
	}
	return &n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
