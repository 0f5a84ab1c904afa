package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/starford/veil/internal/storage"
	"github.com/starford/veil/internal/visibility"
)

// DefaultPath is the settings file location relative to the vault root.
const DefaultPath = ".veil/settings.yaml"

const reloadDebounce = 200 * time.Millisecond

// Store reads and writes the settings file through a storage provider.
type Store struct {
	files  storage.Provider
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	lastSum string
}

// NewStore creates a store for the settings file at path (vault-relative).
func NewStore(files storage.Provider, path string, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{files: files, path: filepath.ToSlash(path), logger: logger}
}

// Path returns the vault-relative settings path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings merged over the defaults. A missing file yields
// the defaults. A corrupt file also yields the defaults, together with the
// decode error so the caller can report it.
func (s *Store) Load() (visibility.Settings, error) {
	settings, _, err := s.load()
	return settings, err
}

func (s *Store) load() (visibility.Settings, string, error) {
	defaults := visibility.DefaultSettings()
	data, err := s.files.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, "", nil
	}
	if err != nil {
		return defaults, "", fmt.Errorf("prefs: load: %w", err)
	}
	sum := storage.Checksum(data)
	rec, err := Decode(data)
	if err != nil {
		return defaults, sum, err
	}
	return rec.Apply(defaults), sum, nil
}

// Save writes the complete settings record atomically.
func (s *Store) Save(settings visibility.Settings) error {
	data, err := yaml.Marshal(FromSettings(settings))
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if err := s.files.Write(s.path, data); err != nil {
		return fmt.Errorf("prefs: save: %w", err)
	}
	s.mu.Lock()
	s.lastSum = storage.Checksum(data)
	s.mu.Unlock()
	return nil
}

// Reload loads the file and reports whether its content differs from what
// this store last loaded or saved.
func (s *Store) Reload() (visibility.Settings, bool, error) {
	settings, sum, err := s.load()
	if err != nil {
		return settings, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum == s.lastSum {
		return settings, false, nil
	}
	s.lastSum = sum
	return settings, true, nil
}

// Watch reloads the settings whenever the file at absPath changes on disk
// and passes changed content to onChange. It blocks until ctx is cancelled.
// The parent directory is created if needed, so the file itself may appear
// later.
func (s *Store) Watch(ctx context.Context, absPath string, onChange func(visibility.Settings)) error {
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prefs: watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prefs: watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("prefs: watch %s: %w", dir, err)
	}

	// Prime the checksum so the first event after startup is compared
	// against what is already in effect.
	_, _, _ = s.Reload()

	name := filepath.Base(absPath)
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	s.logger.Info("prefs: watching settings", slog.String("path", absPath))

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerCh:
			settings, changed, err := s.Reload()
			if err != nil {
				s.logger.Warn("prefs: reload failed", slog.String("error", err.Error()))
				continue
			}
			if !changed {
				continue
			}
			s.logger.Info("prefs: settings reloaded", slog.String("path", absPath))
			onChange(settings)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("prefs: watcher error", slog.String("error", err.Error()))
		}
	}
}
