package style

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/starford/veil/internal/sse"
	"github.com/starford/veil/internal/visibility"
)

// Publisher is the outbound event sink, normally *sse.Broker.
type Publisher interface {
	Publish(event sse.Event)
	PublishRetained(event sse.Event)
}

// Projector keeps the latest directives and pushes changes to clients.
type Projector struct {
	pub    Publisher
	logger *slog.Logger

	mu         sync.RWMutex
	current    Directives
	settings   visibility.Settings
	stylesheet string
	hasFrame   bool
}

// NewProjector creates a projector publishing to pub.
func NewProjector(pub Publisher, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{pub: pub, logger: logger}
}

// Project applies a full frame.
func (p *Projector) Project(f Frame) {
	d := Build(f)
	css := Stylesheet(f.Settings)

	p.mu.Lock()
	levelChanged := !p.hasFrame || p.current.Level != d.Level
	settingsChanged := !p.hasFrame || !sameSettings(p.settings, f.Settings)
	cssChanged := !p.hasFrame || p.stylesheet != css
	p.current = d
	p.settings = f.Settings.Clone()
	p.stylesheet = css
	p.hasFrame = true
	p.mu.Unlock()

	if levelChanged {
		p.pub.PublishRetained(sse.Event{Type: "level.changed", Data: map[string]string{"level": d.Level.String()}})
	}
	if settingsChanged {
		p.pub.PublishRetained(sse.Event{Type: "settings.changed", Data: f.Settings})
	}
	if cssChanged {
		p.pub.PublishRetained(sse.Event{Type: "style.sheet", Data: map[string]string{"css": css}})
	}
	p.pub.PublishRetained(sse.Event{Type: "style.frame", Data: d})

	p.logger.Debug("style: frame projected",
		slog.String("level", d.Level.String()),
		slog.Int("panels", len(d.Panels)))
}

// Blank strips the revealed class from the given panels immediately.
func (p *Projector) Blank(panelIDs []string) {
	if len(panelIDs) == 0 {
		return
	}

	p.mu.Lock()
	for i := range p.current.Panels {
		pd := &p.current.Panels[i]
		if !slices.Contains(panelIDs, pd.ID) {
			continue
		}
		pd.Classes = slices.DeleteFunc(slices.Clone(pd.Classes), func(c string) bool {
			return c == ClassRevealed
		})
	}
	snapshot := p.cloneLocked()
	p.mu.Unlock()

	p.pub.Publish(sse.Event{Type: "style.blank", Data: map[string][]string{"panels": panelIDs}})
	p.pub.PublishRetained(sse.Event{Type: "style.frame", Data: snapshot})
}

// Current returns a copy of the latest directives.
func (p *Projector) Current() Directives {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cloneLocked()
}

// Stylesheet returns the latest stylesheet.
func (p *Projector) Stylesheet() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.hasFrame {
		return Stylesheet(visibility.DefaultSettings())
	}
	return p.stylesheet
}

func (p *Projector) cloneLocked() Directives {
	d := Directives{
		Level:         p.current.Level,
		GlobalClasses: slices.Clone(p.current.GlobalClasses),
		Variables:     make(map[string]string, len(p.current.Variables)),
		Panels:        make([]PanelDirective, len(p.current.Panels)),
	}
	for k, v := range p.current.Variables {
		d.Variables[k] = v
	}
	for i, pd := range p.current.Panels {
		d.Panels[i] = PanelDirective{
			ID:       pd.ID,
			Classes:  slices.Clone(pd.Classes),
			Headings: slices.Clone(pd.Headings),
		}
	}
	return d
}

func sameSettings(a, b visibility.Settings) bool {
	return a.BlurOnStartup == b.BlurOnStartup &&
		a.BlurLevel == b.BlurLevel &&
		a.BlurOnIdleTimeoutSeconds == b.BlurOnIdleTimeoutSeconds &&
		a.HoverToReveal == b.HoverToReveal &&
		a.RevealUnderCaret == b.RevealUnderCaret &&
		a.PrivateNoteMarker == b.PrivateNoteMarker &&
		slices.Equal(a.PrivateDirs, b.PrivateDirs)
}
