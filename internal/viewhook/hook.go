// Package viewhook intercepts panel content switches so that revealed
// content is blanked before a switch starts and recomputed after it settles.
//
// A hook is installed at most once per panel identity. Installation wraps the
// host's switch entry point in a decorator; the registry remembers which
// panels carry one, and the wrap itself refuses to stack a second layer.
package viewhook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/veil/internal/task"
	"github.com/starford/veil/internal/workspace"
)

// Host exposes the per-panel switch entry points.
type Host interface {
	Wrap(id string, wrap func(workspace.Switcher) workspace.Switcher) error
}

// Callbacks run around every intercepted switch.
type Callbacks struct {
	// Before runs synchronously on the caller's goroutine before the
	// underlying switch starts.
	Before func(panelID string)
	// After runs exactly once after the switch settles, with the switch's
	// own error. It runs whether the switch succeeded or failed.
	After func(panelID string, err error)
}

// Registry tracks hooked panels.
type Registry struct {
	host   Host
	cb     Callbacks
	logger *slog.Logger

	mu     sync.Mutex
	hooked map[string]*hook
}

// NewRegistry creates an empty registry.
func NewRegistry(host Host, cb Callbacks, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cb.Before == nil {
		cb.Before = func(string) {}
	}
	if cb.After == nil {
		cb.After = func(string, error) {}
	}
	return &Registry{
		host:   host,
		cb:     cb,
		logger: logger,
		hooked: make(map[string]*hook),
	}
}

// Install hooks the panel's switch entry point. It returns true only when a
// new wrapper was installed; installing on a hooked panel is a no-op. A
// panel the host does not know is left unhooked.
func (r *Registry) Install(panelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.hooked[panelID]; ok {
		return false
	}

	var (
		installed *hook
		wrapped   bool
	)
	err := r.host.Wrap(panelID, func(current workspace.Switcher) workspace.Switcher {
		if h, ok := current.(*hook); ok && h.reg == r {
			installed = h
			return current
		}
		installed = &hook{
			id:   panelID,
			next: current,
			reg:  r,
			sem:  make(chan struct{}, 1),
		}
		wrapped = true
		return installed
	})
	if err != nil {
		r.logger.Debug("viewhook: install skipped",
			slog.String("panel_id", panelID),
			slog.String("error", err.Error()))
		return false
	}

	r.hooked[panelID] = installed
	return wrapped
}

// Forget drops bookkeeping for a closed panel.
func (r *Registry) Forget(panelID string) {
	r.mu.Lock()
	delete(r.hooked, panelID)
	r.mu.Unlock()
}

// Hooked reports whether the panel carries a hook.
func (r *Registry) Hooked(panelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hooked[panelID]
	return ok
}

// Len returns the number of hooked panels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooked)
}

type hook struct {
	id   string
	next workspace.Switcher
	reg  *Registry

	// sem serializes transitions on one panel: a second switch waits until
	// the previous one's After callback has returned.
	sem chan struct{}
}

// Switch implements workspace.Switcher.
func (h *hook) Switch(ctx context.Context, target workspace.Target) *task.Task {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return task.Resolved(ctx.Err())
	}

	h.reg.cb.Before(h.id)

	return h.next.Switch(ctx, target).Then(func(err error) {
		defer func() { <-h.sem }()
		h.reg.cb.After(h.id, err)
	})
}
