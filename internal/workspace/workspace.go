// Package workspace is the in-process host of open panels. A panel shows
// either a vault note (the document kind) or some other surface, and its
// content is changed through a switch entry point that may be wrapped by
// interceptors.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/veil/internal/apperr"
	"github.com/starford/veil/internal/storage"
	"github.com/starford/veil/internal/task"
)

// Kind identifies what a panel displays.
type Kind string

// Panel kinds. Only KindMarkdown is a document panel.
const (
	KindMarkdown Kind = "markdown"
	KindGraph    Kind = "graph"
	KindSearch   Kind = "search"
	KindOutline  Kind = "outline"
	KindEmpty    Kind = "empty"
)

// Valid reports whether k is a known panel kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMarkdown, KindGraph, KindSearch, KindOutline, KindEmpty:
		return true
	}
	return false
}

// IsDocument reports whether panels of this kind edit a vault note.
func (k Kind) IsDocument() bool {
	return k == KindMarkdown
}

// Target is the content a panel should switch to.
type Target struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path,omitempty"`
}

// Switcher is a panel's content-switch entry point.
type Switcher interface {
	Switch(ctx context.Context, target Target) *task.Task
}

// SwitchFunc adapts a function to Switcher.
type SwitchFunc func(ctx context.Context, target Target) *task.Task

// Switch calls f.
func (f SwitchFunc) Switch(ctx context.Context, target Target) *task.Task {
	return f(ctx, target)
}

// PanelInfo is a snapshot of one open panel.
type PanelInfo struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	Path     string    `json:"path,omitempty"`
	Active   bool      `json:"active"`
	OpenedAt time.Time `json:"opened_at"`
}

// EventType is the kind of lifecycle notification.
type EventType string

// Lifecycle notifications.
const (
	PanelOpened    EventType = "opened"
	PanelActivated EventType = "activated"
	PanelSwitched  EventType = "switched"
	PanelClosed    EventType = "closed"
)

// Event is delivered to listeners after a lifecycle change.
type Event struct {
	Type    EventType
	PanelID string
}

// Listener receives lifecycle events. It is called without any workspace
// lock held.
type Listener func(Event)

type panel struct {
	id       string
	kind     Kind
	path     string
	openedAt time.Time
	switcher Switcher
}

// Workspace tracks open panels.
type Workspace struct {
	store  storage.Provider
	logger *slog.Logger

	mu        sync.RWMutex
	panels    map[string]*panel
	order     []string
	active    string
	listeners []Listener
}

// New creates an empty workspace reading notes from store.
func New(store storage.Provider, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		store:  store,
		logger: logger,
		panels: make(map[string]*panel),
	}
}

// Subscribe registers a lifecycle listener.
func (w *Workspace) Subscribe(l Listener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, l)
	w.mu.Unlock()
}

func (w *Workspace) emit(ev Event) {
	w.mu.RLock()
	ls := make([]Listener, len(w.listeners))
	copy(ls, w.listeners)
	w.mu.RUnlock()
	for _, l := range ls {
		l(ev)
	}
}

// Open creates a panel showing target and makes it active.
func (w *Workspace) Open(target Target) (PanelInfo, error) {
	if err := w.checkTarget(target); err != nil {
		return PanelInfo{}, err
	}

	p := &panel{
		id:       uuid.NewString(),
		kind:     target.Kind,
		path:     target.Path,
		openedAt: time.Now(),
	}
	p.switcher = baseSwitcher{ws: w, id: p.id}

	w.mu.Lock()
	w.panels[p.id] = p
	w.order = append(w.order, p.id)
	w.active = p.id
	info := w.infoLocked(p)
	w.mu.Unlock()

	w.logger.Debug("workspace: panel opened",
		slog.String("panel_id", p.id),
		slog.String("kind", string(p.kind)),
		slog.String("path", p.path))
	w.emit(Event{Type: PanelOpened, PanelID: p.id})
	return info, nil
}

// Activate marks a panel as the focused one.
func (w *Workspace) Activate(id string) error {
	w.mu.Lock()
	if _, ok := w.panels[id]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("workspace: panel %s: %w", id, apperr.ErrNotFound)
	}
	w.active = id
	w.mu.Unlock()

	w.emit(Event{Type: PanelActivated, PanelID: id})
	return nil
}

// Close removes a panel. Its switcher chain is dropped with it.
func (w *Workspace) Close(id string) error {
	w.mu.Lock()
	if _, ok := w.panels[id]; !ok {
		w.mu.Unlock()
		return fmt.Errorf("workspace: panel %s: %w", id, apperr.ErrNotFound)
	}
	delete(w.panels, id)
	for i, pid := range w.order {
		if pid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if w.active == id {
		w.active = ""
		if n := len(w.order); n > 0 {
			w.active = w.order[n-1]
		}
	}
	w.mu.Unlock()

	w.emit(Event{Type: PanelClosed, PanelID: id})
	return nil
}

// Panels returns every open panel in opening order.
func (w *Workspace) Panels() []PanelInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]PanelInfo, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.infoLocked(w.panels[id]))
	}
	return out
}

// Panel returns one panel.
func (w *Workspace) Panel(id string) (PanelInfo, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.panels[id]
	if !ok {
		return PanelInfo{}, fmt.Errorf("workspace: panel %s: %w", id, apperr.ErrNotFound)
	}
	return w.infoLocked(p), nil
}

// Switch changes a panel's content through its current switch entry point,
// including any installed wrappers.
func (w *Workspace) Switch(ctx context.Context, id string, target Target) *task.Task {
	sw, err := w.Switcher(id)
	if err != nil {
		return task.Resolved(err)
	}
	return sw.Switch(ctx, target)
}

// Switcher returns the panel's current switch entry point.
func (w *Workspace) Switcher(id string) (Switcher, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.panels[id]
	if !ok {
		return nil, fmt.Errorf("workspace: panel %s: %w", id, apperr.ErrNotFound)
	}
	return p.switcher, nil
}

// Wrap replaces the panel's switch entry point with wrap(current). The
// replacement is atomic with respect to other Wrap and Switch calls.
func (w *Workspace) Wrap(id string, wrap func(Switcher) Switcher) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.panels[id]
	if !ok {
		return fmt.Errorf("workspace: panel %s: %w", id, apperr.ErrNotFound)
	}
	p.switcher = wrap(p.switcher)
	return nil
}

func (w *Workspace) infoLocked(p *panel) PanelInfo {
	return PanelInfo{
		ID:       p.id,
		Kind:     p.kind,
		Path:     p.path,
		Active:   p.id == w.active,
		OpenedAt: p.openedAt,
	}
}

func (w *Workspace) checkTarget(target Target) error {
	if target.Kind == "" {
		return fmt.Errorf("workspace: panel kind is required: %w", apperr.ErrInvalidTarget)
	}
	if !target.Kind.Valid() {
		return fmt.Errorf("workspace: unknown panel kind %q: %w", target.Kind, apperr.ErrInvalidTarget)
	}
	if !target.Kind.IsDocument() {
		return nil
	}
	if target.Path == "" {
		return fmt.Errorf("workspace: %s panel needs a note path: %w", target.Kind, apperr.ErrInvalidTarget)
	}
	if _, err := w.store.Read(target.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("workspace: note %s: %w", target.Path, apperr.ErrNotFound)
		}
		return err
	}
	return nil
}

// baseSwitcher is the unwrapped switch operation. Loading the note happens
// off the caller's goroutine, so completion is always asynchronous.
type baseSwitcher struct {
	ws *Workspace
	id string
}

func (b baseSwitcher) Switch(ctx context.Context, target Target) *task.Task {
	return task.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.ws.checkTarget(target); err != nil {
			return err
		}

		b.ws.mu.Lock()
		p, ok := b.ws.panels[b.id]
		if !ok {
			b.ws.mu.Unlock()
			return fmt.Errorf("workspace: panel %s: %w", b.id, apperr.ErrClosed)
		}
		p.kind = target.Kind
		p.path = target.Path
		b.ws.mu.Unlock()

		b.ws.logger.Debug("workspace: panel switched",
			slog.String("panel_id", b.id),
			slog.String("kind", string(target.Kind)),
			slog.String("path", target.Path))
		b.ws.emit(Event{Type: PanelSwitched, PanelID: b.id})
		return nil
	})
}
