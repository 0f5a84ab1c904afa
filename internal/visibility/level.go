// Package visibility implements the content-visibility policy: the global
// Level, user Settings, and the pure per-panel reveal decision.
package visibility

import (
	"fmt"

	"github.com/starford/veil/internal/apperr"
)

// Level is the single global visibility mode.
type Level int

const (
	// HidePrivate hides documents classified as private and shows the rest.
	HidePrivate Level = iota
	// HideAll hides every document panel.
	HideAll
	// RevealAll shows everything.
	RevealAll
	// RevealHeadlines hides body text but lets headings through.
	RevealHeadlines
)

var levelNames = map[Level]string{
	HidePrivate:     "hide-private",
	HideAll:         "hide-all",
	RevealAll:       "reveal-all",
	RevealHeadlines: "reveal-headlines",
}

// Levels lists every level in command order.
func Levels() []Level {
	return []Level{HideAll, HidePrivate, RevealHeadlines, RevealAll}
}

// String returns the wire name of the level.
func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether l is one of the four defined levels.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// ParseLevel resolves a wire name. The command alias
// "reveal-headlines-only" is accepted for RevealHeadlines.
func ParseLevel(s string) (Level, error) {
	if s == "reveal-headlines-only" {
		return RevealHeadlines, nil
	}
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", apperr.ErrInvalidLevel, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", apperr.ErrInvalidLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
