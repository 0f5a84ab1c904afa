package index

import (
	"log/slog"

	"github.com/starford/veil/internal/parser"
	"github.com/starford/veil/internal/storage"
)

// Sync walks the vault and brings the metadata index up to date:
//   - new/changed notes are parsed and upserted
//   - notes removed from disk are deleted from the index
//
// It returns the number of rows it changed.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) (int, error) {
	metas, err := store.List("")
	if err != nil {
		return 0, err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return 0, err
	}

	changed := 0

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			changed++
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNote(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				changed++
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return changed, nil
}

// indexFile parses data and upserts its metadata into the DB.
func indexFile(db *DB, path string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}

	return db.UpsertNote(NoteRow{
		Path:            path,
		Parent:          ParentOf(path),
		Title:           res.Title,
		Checksum:        storage.Checksum(data),
		BodyTags:        res.BodyTags,
		FrontmatterTags: res.FrontmatterTags,
		Headings:        res.Headings,
	})
}
