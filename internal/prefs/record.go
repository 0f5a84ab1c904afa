// Package prefs persists visibility settings as a YAML file inside the vault
// and reloads them when the file is edited externally.
package prefs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/veil/internal/visibility"
)

// IdleTimeout is the idle-lock timeout in seconds. Values that are not
// integers decode as -1 (disabled) rather than failing.
type IdleTimeout int

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *IdleTimeout) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		*t = -1
		return nil
	}
	*t = IdleTimeout(visibility.ParseIdleTimeout(node.Value))
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *IdleTimeout) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if s, err := strconv.Unquote(raw); err == nil {
		raw = s
	}
	*t = IdleTimeout(visibility.ParseIdleTimeout(raw))
	return nil
}

// Record is the stored shape of the settings. Every field is optional;
// missing fields keep the value they are merged over.
type Record struct {
	BlurOnStartup            *string      `yaml:"blurOnStartup,omitempty" json:"blurOnStartup,omitempty"`
	BlurLevel                *float64     `yaml:"blurLevel,omitempty" json:"blurLevel,omitempty"`
	BlurOnIdleTimeoutSeconds *IdleTimeout `yaml:"blurOnIdleTimeoutSeconds,omitempty" json:"blurOnIdleTimeoutSeconds,omitempty"`
	HoverToReveal            *bool        `yaml:"hoverToReveal,omitempty" json:"hoverToReveal,omitempty"`
	RevealUnderCaret         *bool        `yaml:"revealUnderCaret,omitempty" json:"revealUnderCaret,omitempty"`
	PrivateDirs              *string      `yaml:"privateDirs,omitempty" json:"privateDirs,omitempty"`
	PrivateNoteMarker        *string      `yaml:"privateNoteMarker,omitempty" json:"privateNoteMarker,omitempty"`
}

// Validate rejects values a user submitted directly. Stored files are not
// validated; Apply repairs them instead.
func (r *Record) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.BlurOnStartup, validation.By(func(v any) error {
			s, _ := v.(*string)
			if s == nil {
				return nil
			}
			if _, err := visibility.ParseLevel(*s); err != nil {
				return validation.NewError("validation_level", "must be one of hide-all, hide-private, reveal-all, reveal-headlines")
			}
			return nil
		})),
		validation.Field(&r.BlurLevel, validation.By(func(v any) error {
			f, _ := v.(*float64)
			if f == nil {
				return nil
			}
			if *f < visibility.MinBlurLevel || *f > visibility.MaxBlurLevel {
				return validation.NewError("validation_blur_level",
					fmt.Sprintf("must be between %g and %g", visibility.MinBlurLevel, visibility.MaxBlurLevel))
			}
			return nil
		})),
	)
}

// Apply merges r over base field by field. An unknown startup level keeps
// base's value and the blur level is clamped into range.
func (r *Record) Apply(base visibility.Settings) visibility.Settings {
	out := base.Clone()
	if r == nil {
		return out
	}
	if r.BlurOnStartup != nil {
		if l, err := visibility.ParseLevel(*r.BlurOnStartup); err == nil {
			out.BlurOnStartup = l
		}
	}
	if r.BlurLevel != nil {
		out.BlurLevel = visibility.ClampBlurLevel(*r.BlurLevel)
	}
	if r.BlurOnIdleTimeoutSeconds != nil {
		out.BlurOnIdleTimeoutSeconds = int(*r.BlurOnIdleTimeoutSeconds)
	}
	if r.HoverToReveal != nil {
		out.HoverToReveal = *r.HoverToReveal
	}
	if r.RevealUnderCaret != nil {
		out.RevealUnderCaret = *r.RevealUnderCaret
	}
	if r.PrivateDirs != nil {
		out.PrivateDirs = visibility.ParsePrivateDirs(*r.PrivateDirs)
	}
	if r.PrivateNoteMarker != nil {
		out.PrivateNoteMarker = strings.TrimSpace(*r.PrivateNoteMarker)
	}
	return out
}

// FromSettings returns a fully populated record.
func FromSettings(s visibility.Settings) Record {
	level := s.BlurOnStartup.String()
	blur := s.BlurLevel
	idle := IdleTimeout(s.BlurOnIdleTimeoutSeconds)
	hover := s.HoverToReveal
	caret := s.RevealUnderCaret
	dirs := visibility.FormatPrivateDirs(s.PrivateDirs)
	marker := s.PrivateNoteMarker
	return Record{
		BlurOnStartup:            &level,
		BlurLevel:                &blur,
		BlurOnIdleTimeoutSeconds: &idle,
		HoverToReveal:            &hover,
		RevealUnderCaret:         &caret,
		PrivateDirs:              &dirs,
		PrivateNoteMarker:        &marker,
	}
}

// Decode parses a stored YAML record.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("prefs: decode: %w", err)
	}
	return r, nil
}

// DecodeJSON parses a partial record submitted over the API.
func DecodeJSON(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("prefs: decode json: %w", err)
	}
	return r, nil
}
