// Package style turns visibility decisions into render directives: class
// lists for the root surface and each panel, CSS variables, and a stylesheet
// carrying the private-directory rules. It publishes every change to SSE
// clients.
package style

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

// Global state classes. HidePrivate has no class of its own.
const (
	ClassHideAll         = "veil-hide-all"
	ClassRevealAll       = "veil-reveal-all"
	ClassRevealHeadlines = "veil-reveal-headlines"

	ClassHoverToReveal    = "veil-hover-to-reveal"
	ClassRevealUnderCaret = "veil-reveal-under-caret"
)

// Panel classes.
const (
	ClassDocument      = "veil-doc"
	ClassNonDocument   = "veil-non-doc"
	ClassHeadlinesOnly = "veil-headlines-only"
	ClassRevealed      = "veil-revealed"
)

// VarBlurLevel carries Settings.BlurLevel to the stylesheet.
const VarBlurLevel = "--veil-blur-level"

// PanelState is the computed decision for one panel.
type PanelState struct {
	ID       string           `json:"id"`
	Kind     workspace.Kind   `json:"kind"`
	Path     string           `json:"path,omitempty"`
	Class    visibility.Class `json:"class"`
	Revealed bool             `json:"revealed"`
	Headings []string         `json:"headings,omitempty"`
}

// Frame is one full recomputation result.
type Frame struct {
	Level    visibility.Level    `json:"level"`
	Settings visibility.Settings `json:"settings"`
	Panels   []PanelState        `json:"panels"`
}

// PanelDirective is what a client applies to one panel.
type PanelDirective struct {
	ID       string   `json:"id"`
	Classes  []string `json:"classes"`
	Headings []string `json:"headings,omitempty"`
}

// Directives is what a client applies to the whole surface.
type Directives struct {
	Level         visibility.Level  `json:"level"`
	GlobalClasses []string          `json:"globalClasses"`
	Variables     map[string]string `json:"variables"`
	Panels        []PanelDirective  `json:"panels"`
}

// GlobalClasses returns the root classes for a level and settings.
func GlobalClasses(level visibility.Level, s visibility.Settings) []string {
	out := []string{}
	switch level {
	case visibility.HideAll:
		out = append(out, ClassHideAll)
	case visibility.RevealAll:
		out = append(out, ClassRevealAll)
	case visibility.RevealHeadlines:
		out = append(out, ClassRevealHeadlines)
	}
	if s.HoverToReveal {
		out = append(out, ClassHoverToReveal)
	}
	if s.RevealUnderCaret {
		out = append(out, ClassRevealUnderCaret)
	}
	return out
}

// PanelClasses returns the classes for one panel.
func PanelClasses(p PanelState) []string {
	var out []string
	switch p.Class {
	case visibility.ClassHeadlinesOnly:
		out = append(out, ClassDocument, ClassHeadlinesOnly)
	case visibility.ClassDocument:
		out = append(out, ClassDocument)
	default:
		out = append(out, ClassNonDocument)
	}
	if p.Revealed {
		out = append(out, ClassRevealed)
	}
	return out
}

// Build converts a frame into directives. Headings are only passed through
// for headlines-only panels.
func Build(f Frame) Directives {
	d := Directives{
		Level:         f.Level,
		GlobalClasses: GlobalClasses(f.Level, f.Settings),
		Variables: map[string]string{
			VarBlurLevel: formatEm(f.Settings.BlurLevel),
		},
		Panels: make([]PanelDirective, 0, len(f.Panels)),
	}
	for _, p := range f.Panels {
		pd := PanelDirective{ID: p.ID, Classes: PanelClasses(p)}
		if p.Class == visibility.ClassHeadlinesOnly {
			pd.Headings = p.Headings
		}
		d.Panels = append(d.Panels, pd)
	}
	return d
}

func formatEm(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "em"
}

// Stylesheet renders the CSS injected into each rendering surface.
func Stylesheet(s visibility.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":root { %s: %s; }\n", VarBlurLevel, formatEm(s.BlurLevel))

	blur := fmt.Sprintf("filter: blur(var(%s));", VarBlurLevel)
	fmt.Fprintf(&b, ".%s:not(.%s) .view-content { %s }\n", ClassDocument, ClassRevealed, blur)
	fmt.Fprintf(&b, "body.%s .workspace-leaf .view-content { %s }\n", ClassHideAll, blur)
	fmt.Fprintf(&b, ".%s .view-content :is(h1, h2, h3, h4, h5, h6) { filter: none; }\n", ClassHeadlinesOnly)
	fmt.Fprintf(&b, "body.%s .view-content { filter: none; }\n", ClassRevealAll)
	fmt.Fprintf(&b, "body.%s .%s:hover .view-content { filter: none; }\n", ClassHoverToReveal, ClassDocument)
	fmt.Fprintf(&b, "body.%s .%s .cm-active { filter: none; }\n", ClassRevealUnderCaret, ClassDocument)

	for _, dir := range s.PrivateDirs {
		fmt.Fprintf(&b, "body:not(.%s) [data-path^=\"%s\"] { %s }\n", ClassRevealAll, cssString(dir), blur)
	}
	return b.String()
}

// cssString escapes a value for use inside a double-quoted CSS string.
func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)
	return r.Replace(s)
}
