package index

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/starford/veil/internal/apperr"
	"github.com/starford/veil/internal/storage"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "veil-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes`).Scan(&count); err != nil {
		t.Fatalf("notes table missing: %v", err)
	}
}

func TestUpsertAndGetChecksum(t *testing.T) {
	db := testDB(t)
	row := NoteRow{
		Path:      "hello.md",
		Title:     "Hello World",
		Checksum:  "abc123",
		BodyTags:  []string{"#go", "#test"},
		UpdatedAt: time.Now(),
	}
	if err := db.UpsertNote(row); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}
	cs, err := db.GetChecksum("hello.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}
}

func TestNote_RoundTrip(t *testing.T) {
	db := testDB(t)
	err := db.UpsertNote(NoteRow{
		Path:            "journal/2024/jan.md",
		Title:           "January",
		Checksum:        "1",
		BodyTags:        []string{"#draft"},
		FrontmatterTags: []string{"#private"},
		Headings:        []string{"January", "Week 1"},
	})
	if err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	n, err := db.Note("journal/2024/jan.md")
	if err != nil {
		t.Fatalf("Note: %v", err)
	}
	if n.Parent != "journal/2024" {
		t.Errorf("parent = %q, want %q", n.Parent, "journal/2024")
	}
	if !reflect.DeepEqual(n.Headings, []string{"January", "Week 1"}) {
		t.Errorf("headings = %v", n.Headings)
	}
	tags := n.TagSet()
	if !tags.Has("#draft") || !tags.Has("#private") || tags.Len() != 2 {
		t.Errorf("tag set = %v, want #draft and #private", tags)
	}
}

func TestNote_NotFound(t *testing.T) {
	db := testDB(t)
	_, err := db.Note("missing.md")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestNote_AbsentFrontmatterTagsStayNil(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertNote(NoteRow{Path: "a.md", Checksum: "1"})
	_ = db.UpsertNote(NoteRow{Path: "b.md", Checksum: "2", FrontmatterTags: []string{}})

	a, err := db.Note("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if a.FrontmatterTags != nil {
		t.Errorf("absent field should read back nil, got %v", a.FrontmatterTags)
	}
	b, err := db.Note("b.md")
	if err != nil {
		t.Fatal(err)
	}
	if b.FrontmatterTags == nil || len(b.FrontmatterTags) != 0 {
		t.Errorf("empty field should read back empty non-nil, got %#v", b.FrontmatterTags)
	}
	if a.TagSet().Len() != 0 || b.TagSet().Len() != 0 {
		t.Error("both notes should have empty tag sets")
	}
}

func TestNilNoteRowTagSet(t *testing.T) {
	var n *NoteRow
	if n.TagSet().Len() != 0 {
		t.Error("nil row should give an empty tag set")
	}
}

func TestParentOf(t *testing.T) {
	cases := map[string]string{
		"root.md":             "",
		"/root.md":            "",
		"journal/day.md":      "journal",
		"journal/2024/day.md": "journal/2024",
	}
	for in, want := range cases {
		if got := ParentOf(in); got != want {
			t.Errorf("ParentOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListNotes_Folder(t *testing.T) {
	db := testDB(t)
	for _, p := range []string{"a.md", "journal/x.md", "journal/2024/y.md", "journal_old/z.md"} {
		_ = db.UpsertNote(NoteRow{Path: p, Checksum: p})
	}

	all, err := db.ListNotes("")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 notes, got %d", len(all))
	}

	sub, err := db.ListNotes("journal/")
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	var paths []string
	for _, n := range sub {
		paths = append(paths, n.Path)
	}
	want := []string{"journal/2024/y.md", "journal/x.md"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestDeleteNote(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertNote(NoteRow{Path: "del.md", Checksum: "x"})

	if err := db.DeleteNote("del.md"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted note still has checksum %q", cs)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertNote(NoteRow{Path: "up.md", Title: "Old", Checksum: "1", FrontmatterTags: []string{"#private"}})
	_ = db.UpsertNote(NoteRow{Path: "up.md", Title: "New", Checksum: "2", BodyTags: []string{"#new"}})

	n, err := db.Note("up.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Checksum != "2" || n.Title != "New" {
		t.Errorf("row not updated: %+v", n)
	}
	if n.TagSet().Has("#private") {
		t.Error("stale frontmatter tag survived upsert")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSync_IndexesAndPrunes(t *testing.T) {
	db := testDB(t)
	vault := t.TempDir()
	store, err := storage.NewFS(vault)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	_ = os.MkdirAll(filepath.Join(vault, "journal"), 0o755)
	_ = os.WriteFile(filepath.Join(vault, "journal", "day.md"), []byte("---\ntags: private\n---\n# Day\n"), 0o644)
	_ = os.WriteFile(filepath.Join(vault, "open.md"), []byte("# Open\n#public"), 0o644)

	changed, err := Sync(db, store, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if changed != 2 {
		t.Errorf("changed = %d, want 2", changed)
	}

	n, err := db.Note("journal/day.md")
	if err != nil {
		t.Fatal(err)
	}
	if n.Parent != "journal" || !n.TagSet().Has("#private") {
		t.Errorf("unexpected row %+v", n)
	}

	// Second pass is a no-op.
	changed, _ = Sync(db, store, logger)
	if changed != 0 {
		t.Errorf("changed on idle sync = %d, want 0", changed)
	}

	_ = os.Remove(filepath.Join(vault, "open.md"))
	changed, _ = Sync(db, store, logger)
	if changed != 1 {
		t.Errorf("changed after delete = %d, want 1", changed)
	}
	if _, err := db.Note("open.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stale row not pruned: %v", err)
	}
}
