// Package parser extracts frontmatter, tags, and headings from Markdown content.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	tagRe     = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	fenceRe   = regexp.MustCompile("^(```|~~~)")
)

// Result holds the output of parsing a Markdown file.
//
// Tags are normalised to the "#tag" form. FrontmatterTags is nil when the
// note has no frontmatter tag field at all; callers treat that as empty.
type Result struct {
	Frontmatter     map[string]interface{}
	Body            string
	Title           string
	BodyTags        []string
	FrontmatterTags []string
	Headings        []string
}

// Tags returns the union of frontmatter and body tags, frontmatter first.
func (r *Result) Tags() []string {
	return mergeTags(r.FrontmatterTags, r.BodyTags)
}

// Parse extracts frontmatter, body, tags, and headings from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	headings := extractHeadings(body)

	return &Result{
		Frontmatter:     fm,
		Body:            body,
		Title:           deriveTitle(fm, headings),
		BodyTags:        extractBodyTags(body),
		FrontmatterTags: extractFrontmatterTags(fm),
		Headings:        headings,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: treat everything as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: body only, no error.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// extractFrontmatterTags reads the "tags" (or "tag") field. Both YAML lists
// and comma or space separated strings are accepted.
func extractFrontmatterTags(fm map[string]interface{}) []string {
	if fm == nil {
		return nil
	}
	raw, ok := fm["tags"]
	if !ok {
		raw, ok = fm["tag"]
	}
	if !ok || raw == nil {
		return nil
	}

	var items []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	case string:
		items = strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
	}

	out := []string{}
	seen := make(map[string]struct{}, len(items))
	for _, s := range items {
		t := normalizeTag(s)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// extractBodyTags collects inline #tags outside fenced code blocks.
func extractBodyTags(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	eachProseLine(body, func(line string) {
		for _, m := range tagRe.FindAllStringSubmatch(line, -1) {
			t := "#" + m[1]
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	})
	return out
}

// extractHeadings returns ATX heading texts in document order.
func extractHeadings(body string) []string {
	var out []string
	eachProseLine(body, func(line string) {
		if m := headingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			out = append(out, m[2])
		}
	})
	return out
}

func eachProseLine(body string, fn func(line string)) {
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if fenceRe.MatchString(strings.TrimSpace(line)) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		fn(line)
	}
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, headings []string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	if len(headings) > 0 {
		return headings[0]
	}
	return ""
}

func normalizeTag(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "#")
	if s == "" {
		return ""
	}
	return "#" + s
}

func mergeTags(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, t := range list {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
