package visibility

import (
	"fmt"
	"strings"
)

// TagSet is the set of tags attached to a document. A nil TagSet is a
// valid, empty set.
type TagSet map[string]struct{}

// NewTagSet merges any number of tag lists. Nil lists contribute nothing.
func NewTagSet(lists ...[]string) TagSet {
	set := TagSet{}
	for _, list := range lists {
		for _, t := range list {
			if t == "" {
				continue
			}
			set[t] = struct{}{}
		}
	}
	return set
}

// Has reports whether tag is present.
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Len returns the number of tags.
func (s TagSet) Len() int {
	return len(s)
}

// View is what the policy needs to know about one open panel.
type View struct {
	IsDocument bool
	Tags       TagSet
	ParentPath string
}

// Class is the styling classification of a panel, independent of the reveal bit.
type Class int

const (
	ClassNonDocument Class = iota
	ClassDocument
	ClassHeadlinesOnly
)

// String returns the class name used in logs and JSON.
func (c Class) String() string {
	switch c {
	case ClassDocument:
		return "document"
	case ClassHeadlinesOnly:
		return "headlines-only"
	default:
		return "non-document"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(b []byte) error {
	switch string(b) {
	case "document":
		*c = ClassDocument
	case "headlines-only":
		*c = ClassHeadlinesOnly
	case "non-document":
		*c = ClassNonDocument
	default:
		return fmt.Errorf("visibility: unknown class %q", b)
	}
	return nil
}

// Rule names the policy step that produced a decision.
type Rule string

// Policy steps in evaluation order.
const (
	RuleRevealAll   Rule = "reveal-all"
	RuleLevelHides  Rule = "level-hides"
	RuleNonDocument Rule = "non-document"
	RuleMarkerTag   Rule = "marker-tag"
	RuleOtherTags   Rule = "other-tags"
	RulePrivateDir  Rule = "private-dir"
	RuleDefault     Rule = "default"
)

// Decision is a reveal verdict together with the rule that produced it.
type Decision struct {
	Reveal bool `json:"reveal"`
	Rule   Rule `json:"rule"`
}

// ShouldReveal decides whether a panel renders unobscured.
func ShouldReveal(level Level, settings Settings, view View) bool {
	return Decide(level, settings, view).Reveal
}

// Decide evaluates the policy rules in order; the first match wins.
// HideAll and RevealHeadlines are absolute and are checked before any
// per-document exception.
func Decide(level Level, settings Settings, view View) Decision {
	switch level {
	case RevealAll:
		return Decision{Reveal: true, Rule: RuleRevealAll}
	case HideAll, RevealHeadlines:
		return Decision{Reveal: false, Rule: RuleLevelHides}
	}

	if !view.IsDocument {
		return Decision{Reveal: true, Rule: RuleNonDocument}
	}

	// Any tag at all short-circuits the directory rule, even when the
	// marker is not among them.
	if settings.PrivateNoteMarker != "" && view.Tags.Len() > 0 {
		if view.Tags.Has(settings.PrivateNoteMarker) {
			return Decision{Reveal: false, Rule: RuleMarkerTag}
		}
		return Decision{Reveal: true, Rule: RuleOtherTags}
	}

	if InPrivateDir(settings.PrivateDirs, view.ParentPath) {
		return Decision{Reveal: false, Rule: RulePrivateDir}
	}

	return Decision{Reveal: true, Rule: RuleDefault}
}

// InPrivateDir reports whether parent starts with any of the prefixes.
func InPrivateDir(prefixes []string, parent string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(parent, p) {
			return true
		}
	}
	return false
}

// Classify returns the styling class of a panel under level.
func Classify(level Level, view View) Class {
	if !view.IsDocument {
		return ClassNonDocument
	}
	if level == RevealHeadlines {
		return ClassHeadlinesOnly
	}
	return ClassDocument
}
