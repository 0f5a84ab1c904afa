package visibility

import (
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Blur intensity bounds accepted by the styling layer.
const (
	MinBlurLevel = 0.1
	MaxBlurLevel = 1.5
)

// Settings is the user-facing configuration of the policy and the styling
// flags handed through to the projector.
type Settings struct {
	BlurOnStartup            Level    `json:"blurOnStartup"`
	BlurLevel                float64  `json:"blurLevel"`
	BlurOnIdleTimeoutSeconds int      `json:"blurOnIdleTimeoutSeconds"`
	HoverToReveal            bool     `json:"hoverToReveal"`
	RevealUnderCaret         bool     `json:"revealUnderCaret"`
	PrivateDirs              []string `json:"privateDirs"`
	PrivateNoteMarker        string   `json:"privateNoteMarker"`
}

// DefaultSettings returns the settings used when nothing has been stored.
func DefaultSettings() Settings {
	return Settings{
		BlurOnStartup:            HidePrivate,
		BlurLevel:                0.3,
		BlurOnIdleTimeoutSeconds: -1,
		HoverToReveal:            true,
		RevealUnderCaret:         false,
		PrivateDirs:              []string{},
		PrivateNoteMarker:        "#private",
	}
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.BlurOnStartup, validation.By(func(v any) error {
			if l, ok := v.(Level); !ok || !l.Valid() {
				return validation.NewError("validation_level", "must be a known level")
			}
			return nil
		})),
		validation.Field(&s.BlurLevel, validation.Required, validation.Min(MinBlurLevel), validation.Max(MaxBlurLevel)),
	)
}

// IdleLockEnabled reports whether the idle monitor may fire.
func (s *Settings) IdleLockEnabled() bool {
	return s.BlurOnIdleTimeoutSeconds >= 0
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	dirs := make([]string, len(s.PrivateDirs))
	copy(dirs, s.PrivateDirs)
	s.PrivateDirs = dirs
	return s
}

// ParsePrivateDirs splits a comma-separated prefix list, trimming blanks
// and dropping empty entries. Order is preserved.
func ParsePrivateDirs(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// FormatPrivateDirs is the inverse of ParsePrivateDirs.
func FormatPrivateDirs(dirs []string) string {
	return strings.Join(dirs, ",")
}

// ParseIdleTimeout reads a seconds value typed by the user. Anything that is
// not an integer disables the idle lock.
func ParseIdleTimeout(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return -1
	}
	return n
}

// ClampBlurLevel forces v into [MinBlurLevel, MaxBlurLevel].
func ClampBlurLevel(v float64) float64 {
	switch {
	case v < MinBlurLevel:
		return MinBlurLevel
	case v > MaxBlurLevel:
		return MaxBlurLevel
	}
	return v
}
