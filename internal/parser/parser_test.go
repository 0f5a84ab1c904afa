package parser

import (
	"reflect"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - private\n---\n# Hello\nBody text #draft.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if !reflect.DeepEqual(r.FrontmatterTags, []string{"#go", "#private"}) {
		t.Errorf("frontmatter tags = %v, want [#go #private]", r.FrontmatterTags)
	}
	if !reflect.DeepEqual(r.BodyTags, []string{"#draft"}) {
		t.Errorf("body tags = %v, want [#draft]", r.BodyTags)
	}
	if !reflect.DeepEqual(r.Tags(), []string{"#go", "#private", "#draft"}) {
		t.Errorf("tags = %v", r.Tags())
	}
	if r.Body != "# Hello\nBody text #draft.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.FrontmatterTags != nil {
		t.Errorf("expected nil frontmatter tags, got %v", r.FrontmatterTags)
	}
	if len(r.Tags()) != 0 {
		t.Errorf("expected no tags, got %v", r.Tags())
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_FrontmatterWithoutTags(t *testing.T) {
	r, err := Parse([]byte("---\ntitle: Plain\n---\nbody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.FrontmatterTags != nil {
		t.Errorf("absent tags field should stay nil, got %v", r.FrontmatterTags)
	}
}

func TestParse_NullTagsField(t *testing.T) {
	r, err := Parse([]byte("---\ntags:\n---\nbody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Tags()) != 0 {
		t.Errorf("null tags should be empty, got %v", r.Tags())
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractFrontmatterTags_StringForms(t *testing.T) {
	cases := []struct {
		name string
		fm   map[string]any
		want []string
	}{
		{"comma string", map[string]any{"tags": "private, work"}, []string{"#private", "#work"}},
		{"space string", map[string]any{"tags": "#private work"}, []string{"#private", "#work"}},
		{"singular key", map[string]any{"tag": "private"}, []string{"#private"}},
		{"duplicates", map[string]any{"tags": []any{"a", "#a", " "}}, []string{"#a"}},
		{"non-string items", map[string]any{"tags": []any{1, "x"}}, []string{"#x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractFrontmatterTags(tc.fm)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtractBodyTags_SkipsCodeFences(t *testing.T) {
	body := "Intro #visible\n```\n#notatag inside code\n```\n~~~\n#alsoignored\n~~~\nend #visible #more"
	got := extractBodyTags(body)
	want := []string{"#visible", "#more"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestExtractHeadings(t *testing.T) {
	body := "# One\ntext\n## Two ##\n```\n# not a heading\n```\n#nospace\n###### Six"
	got := extractHeadings(body)
	want := []string{"One", "Two", "Six"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("headings = %v, want %v", got, want)
	}
}

func TestDeriveTitle_FrontmatterOverHeading(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	title := deriveTitle(fm, []string{"H1 Title"})
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_HeadingFallback(t *testing.T) {
	title := deriveTitle(nil, []string{"My Heading"})
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}
