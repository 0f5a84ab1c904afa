// Package controller owns the visibility session: the global level, the
// active settings, and the set of panels currently marked revealed.
//
// All session state is mutated on a single loop goroutine. Public methods
// hand closures to that loop and wait for them, so every transition runs to
// completion before the next one starts.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/starford/veil/internal/apperr"
	"github.com/starford/veil/internal/index"
	"github.com/starford/veil/internal/style"
	"github.com/starford/veil/internal/viewhook"
	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

// DefaultSettleDelay is how long after a switch settles the full
// recomputation runs, for panels that finish rendering late.
const DefaultSettleDelay = 200 * time.Millisecond

// Host enumerates open panels and exposes their switch entry points.
type Host interface {
	viewhook.Host
	Panels() []workspace.PanelInfo
}

// MetadataSource looks up indexed note metadata.
type MetadataSource interface {
	Note(path string) (*index.NoteRow, error)
}

// Projector receives computed frames.
type Projector interface {
	Project(f style.Frame)
	Blank(panelIDs []string)
}

// Options tune a Controller.
type Options struct {
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// State is a point-in-time view of the session.
type State struct {
	Level    visibility.Level    `json:"level"`
	Settings visibility.Settings `json:"settings"`
	Revealed []string            `json:"revealed"`
	Panels   []style.PanelState  `json:"panels"`
	Hooked   int                 `json:"hooked"`
}

// Controller is the session context. Construct one per host session and
// Close it on shutdown.
type Controller struct {
	host        Host
	meta        MetadataSource
	proj        Projector
	hooks       *viewhook.Registry
	logger      *slog.Logger
	settleDelay time.Duration

	calls   chan func()
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool

	levelMirror    atomic.Int32
	settingsMirror atomic.Pointer[visibility.Settings]

	// Owned by the loop goroutine.
	level    visibility.Level
	settings visibility.Settings
	revealed map[string]struct{}
	panels   []style.PanelState
	settle   *time.Timer

	// Panels between BeforeSwitch and AfterSwitch. They stay blanked
	// whatever a recompute decides for the content they are leaving.
	switching map[string]struct{}
}

// New creates a controller and applies settings.BlurOnStartup once.
func New(host Host, meta MetadataSource, proj Projector, settings visibility.Settings, opts Options) (*Controller, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("controller: settings: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}

	c := &Controller{
		host:        host,
		meta:        meta,
		proj:        proj,
		logger:      opts.Logger,
		settleDelay: opts.SettleDelay,
		calls:       make(chan func()),
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
		settings:    settings.Clone(),
		level:       settings.BlurOnStartup,
		revealed:    make(map[string]struct{}),
		switching:   make(map[string]struct{}),
	}
	c.publishMirrors()
	c.hooks = viewhook.NewRegistry(host, viewhook.Callbacks{
		Before: c.BeforeSwitch,
		After:  c.AfterSwitch,
	}, opts.Logger)

	go c.run()

	if err := c.SetLevel(settings.BlurOnStartup); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Controller) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.stopCh:
			if c.settle != nil {
				c.settle.Stop()
			}
			return
		case fn := <-c.calls:
			fn()
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (c *Controller) do(fn func()) error {
	if c.closed.Load() {
		return apperr.ErrClosed
	}
	done := make(chan struct{})
	select {
	case c.calls <- func() { fn(); close(done) }:
	case <-c.stopCh:
		return apperr.ErrClosed
	}
	<-done
	return nil
}

// Level returns the current level without waiting for the loop.
func (c *Controller) Level() visibility.Level {
	return visibility.Level(c.levelMirror.Load())
}

// Settings returns a copy of the current settings.
func (c *Controller) Settings() visibility.Settings {
	return c.settingsMirror.Load().Clone()
}

// SetLevel changes the global level and recomputes every open panel before
// returning.
func (c *Controller) SetLevel(level visibility.Level) error {
	if !level.Valid() {
		return fmt.Errorf("controller: set level %d: %w", level, apperr.ErrInvalidLevel)
	}
	return c.do(func() {
		prev := c.level
		c.level = level
		c.publishMirrors()
		c.recompute()
		if prev != level {
			c.logger.Info("controller: level changed",
				slog.String("from", prev.String()),
				slog.String("to", level.String()))
		}
	})
}

// UpdateSettings replaces the settings and recomputes.
func (c *Controller) UpdateSettings(s visibility.Settings) error {
	_, err := c.ModifySettings(func(visibility.Settings) visibility.Settings {
		return s.Clone()
	})
	return err
}

// ModifySettings applies fn to the current settings on the loop, validates
// the result, and recomputes. Concurrent partial edits therefore never
// overwrite each other. It returns the settings now in effect.
func (c *Controller) ModifySettings(fn func(visibility.Settings) visibility.Settings) (visibility.Settings, error) {
	var (
		next visibility.Settings
		ferr error
	)
	err := c.do(func() {
		next = fn(c.settings.Clone())
		if ferr = next.Validate(); ferr != nil {
			return
		}
		c.settings = next.Clone()
		c.publishMirrors()
		c.recompute()
		c.logger.Info("controller: settings updated")
	})
	if err != nil {
		return visibility.Settings{}, err
	}
	if ferr != nil {
		return visibility.Settings{}, fmt.Errorf("controller: settings: %w", ferr)
	}
	return next, nil
}

// Recompute re-hooks and re-evaluates every open panel.
func (c *Controller) Recompute() error {
	return c.do(c.recompute)
}

// BeforeSwitch blanks every revealed panel before a switch starts.
func (c *Controller) BeforeSwitch(panelID string) {
	err := c.do(func() {
		c.switching[panelID] = struct{}{}
		if len(c.revealed) == 0 {
			return
		}
		ids := c.revealedIDs()
		clear(c.revealed)
		for i := range c.panels {
			c.panels[i].Revealed = false
		}
		c.proj.Blank(ids)
		c.logger.Debug("controller: blanked before switch",
			slog.String("panel_id", panelID),
			slog.Int("blanked", len(ids)))
	})
	if err != nil {
		c.logger.Debug("controller: before switch ignored", slog.String("panel_id", panelID))
	}
}

// AfterSwitch hooks any panels the switch created and schedules the
// settle-delay recomputation. It runs whether or not the switch failed.
// The panel stays blanked until that recomputation.
func (c *Controller) AfterSwitch(panelID string, switchErr error) {
	if switchErr != nil {
		c.logger.Debug("controller: switch failed",
			slog.String("panel_id", panelID),
			slog.String("error", switchErr.Error()))
	}
	err := c.do(func() {
		delete(c.switching, panelID)
		c.installHooks()
		if c.settle == nil {
			c.settle = time.AfterFunc(c.settleDelay, c.settled)
			return
		}
		c.settle.Reset(c.settleDelay)
	})
	if err != nil {
		c.logger.Debug("controller: after switch ignored", slog.String("panel_id", panelID))
	}
}

func (c *Controller) settled() {
	if c.closed.Load() {
		return
	}
	if err := c.Recompute(); err != nil && !errors.Is(err, apperr.ErrClosed) {
		c.logger.Warn("controller: settle recompute failed", slog.String("error", err.Error()))
	}
}

// PanelClosed drops a panel from the session and recomputes.
func (c *Controller) PanelClosed(panelID string) {
	_ = c.do(func() {
		c.hooks.Forget(panelID)
		delete(c.revealed, panelID)
		delete(c.switching, panelID)
		c.recompute()
	})
}

// HandleEvent routes workspace lifecycle events. Subscribe it with
// workspace.Subscribe.
func (c *Controller) HandleEvent(ev workspace.Event) {
	switch ev.Type {
	case workspace.PanelOpened, workspace.PanelActivated:
		_ = c.Recompute()
	case workspace.PanelClosed:
		c.PanelClosed(ev.PanelID)
	}
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() (State, error) {
	var st State
	err := c.do(func() {
		panels := make([]style.PanelState, len(c.panels))
		copy(panels, c.panels)
		st = State{
			Level:    c.level,
			Settings: c.settings.Clone(),
			Revealed: c.revealedIDs(),
			Panels:   panels,
			Hooked:   c.hooks.Len(),
		}
	})
	return st, err
}

// NoteDecision explains how a note would render in a document panel.
type NoteDecision struct {
	Path     string              `json:"path"`
	Level    visibility.Level    `json:"level"`
	Class    visibility.Class    `json:"class"`
	Tags     []string            `json:"tags"`
	Parent   string              `json:"parent"`
	Indexed  bool                `json:"indexed"`
	Decision visibility.Decision `json:"decision"`
}

// Explain evaluates the policy for a note under level, or under the current
// level when level is nil. It does not change any state.
func (c *Controller) Explain(path string, level *visibility.Level) NoteDecision {
	lvl := c.Level()
	if level != nil {
		lvl = *level
	}
	view, row := c.documentView(path)
	tags := make([]string, 0, view.Tags.Len())
	for t := range view.Tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return NoteDecision{
		Path:     path,
		Level:    lvl,
		Class:    visibility.Classify(lvl, view),
		Tags:     tags,
		Parent:   view.ParentPath,
		Indexed:  row != nil,
		Decision: visibility.Decide(lvl, c.Settings(), view),
	}
}

// Close stops the loop. Pending settle timers become no-ops.
func (c *Controller) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	<-c.stopped
}

// recompute must run on the loop goroutine.
func (c *Controller) recompute() {
	c.installHooks()

	infos := c.host.Panels()
	panels := make([]style.PanelState, 0, len(infos))
	clear(c.revealed)

	for _, p := range infos {
		st := style.PanelState{ID: p.ID, Kind: p.Kind, Path: p.Path}
		view := visibility.View{IsDocument: p.Kind.IsDocument()}
		var row *index.NoteRow
		if view.IsDocument {
			view, row = c.documentView(p.Path)
		}
		st.Class = visibility.Classify(c.level, view)
		st.Revealed = visibility.ShouldReveal(c.level, c.settings, view)
		if _, busy := c.switching[p.ID]; busy {
			st.Revealed = false
		}
		if st.Class == visibility.ClassHeadlinesOnly && row != nil {
			st.Headings = row.Headings
		}
		if st.Revealed {
			c.revealed[p.ID] = struct{}{}
		}
		panels = append(panels, st)
	}
	c.panels = panels

	c.proj.Project(style.Frame{
		Level:    c.level,
		Settings: c.settings.Clone(),
		Panels:   panels,
	})
}

func (c *Controller) installHooks() {
	for _, p := range c.host.Panels() {
		if c.hooks.Install(p.ID) {
			c.logger.Debug("controller: panel hooked", slog.String("panel_id", p.ID))
		}
	}
}

// documentView builds the policy input for a note. Missing metadata is an
// empty tag set, never an error.
func (c *Controller) documentView(path string) (visibility.View, *index.NoteRow) {
	view := visibility.View{IsDocument: true, ParentPath: index.ParentOf(path)}
	if c.meta == nil || path == "" {
		return view, nil
	}
	row, err := c.meta.Note(path)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			c.logger.Warn("controller: metadata lookup failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return view, nil
	}
	view.Tags = row.TagSet()
	return view, row
}

func (c *Controller) revealedIDs() []string {
	ids := make([]string, 0, len(c.revealed))
	for id := range c.revealed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Controller) publishMirrors() {
	c.levelMirror.Store(int32(c.level))
	s := c.settings.Clone()
	c.settingsMirror.Store(&s)
}
