package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/veil/internal/controller"
	"github.com/starford/veil/internal/idle"
	"github.com/starford/veil/internal/index"
	"github.com/starford/veil/internal/prefs"
	"github.com/starford/veil/internal/sse"
	"github.com/starford/veil/internal/style"
	"github.com/starford/veil/internal/testutil"
	"github.com/starford/veil/internal/visibility"
	"github.com/starford/veil/internal/workspace"
)

type touchCounter struct{ n atomic.Int32 }

func (c *touchCounter) Touch() { c.n.Add(1) }

type apiEnv struct {
	router   http.Handler
	vaultDir string
	ctrl     *controller.Controller
	touches  *touchCounter
	deps     Deps
}

// testEnvFull sets up a temp vault with a few notes, the metadata index, the
// workspace, the controller and the router.
func testEnvFull(t *testing.T, authEnabled bool, authToken string, sseHandler http.Handler) *apiEnv {
	t.Helper()

	vaultDir, store := testutil.TestVault(t)
	testutil.WriteNote(t, vaultDir, "journal/day.md", "# Day\nprivate thoughts #private\n")
	testutil.WriteNote(t, vaultDir, "work/plan.md", "---\ntags: [project]\n---\n# Plan\n## Risks\n")
	testutil.WriteNote(t, vaultDir, "finance/q1.md", "# Q1\n")

	logger := testutil.QuietLogger()
	db := testutil.TestDB(t)
	if _, err := index.Sync(db, store, logger); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	proj := style.NewProjector(broker, logger)
	ws := workspace.New(store, logger)

	ctrl, err := controller.New(ws, db, proj, visibility.DefaultSettings(), controller.Options{
		SettleDelay: 10 * time.Millisecond,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(ctrl.Close)
	ws.Subscribe(ctrl.HandleEvent)

	touches := &touchCounter{}
	deps := Deps{
		Session:  ctrl,
		Panels:   ws,
		Styles:   proj,
		Prefs:    prefs.NewStore(store, "", logger),
		Activity: touches,
		Notes:    db,
	}
	router := NewRouter(deps, authEnabled, authToken, sseHandler)

	return &apiEnv{router: router, vaultDir: vaultDir, ctrl: ctrl, touches: touches, deps: deps}
}

func testEnv(t *testing.T) *apiEnv {
	t.Helper()
	return testEnvFull(t, false, "", nil)
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func (e *apiEnv) openPanel(t *testing.T, kind workspace.Kind, path string) workspace.PanelInfo {
	t.Helper()
	w := e.do(t, http.MethodPost, "/panels", workspace.Target{Kind: kind, Path: path})
	if w.Code != http.StatusCreated {
		t.Fatalf("open panel status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[workspace.PanelInfo](t, w)
}

func TestCommands(t *testing.T) {
	e := testEnv(t)

	cases := map[string]string{
		"hide-all":              "hide-all",
		"reveal-all":            "reveal-all",
		"reveal-headlines-only": "reveal-headlines",
		"hide-private":          "hide-private",
	}
	for cmd, want := range cases {
		w := e.do(t, http.MethodPost, "/commands/"+cmd, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", cmd, w.Code)
		}
		got := decode[map[string]string](t, w)
		if got["level"] != want {
			t.Errorf("%s: level = %q, want %q", cmd, got["level"], want)
		}
	}

	w := e.do(t, http.MethodPost, "/commands/self-destruct", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown command = %d, want 404", w.Code)
	}
}

func TestSetLevel(t *testing.T) {
	e := testEnv(t)

	w := e.do(t, http.MethodPut, "/level", LevelRequest{Level: "hide-all"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if e.ctrl.Level() != visibility.HideAll {
		t.Errorf("level = %s, want hide-all", e.ctrl.Level())
	}

	w = e.do(t, http.MethodGet, "/level", nil)
	if got := decode[map[string]string](t, w); got["level"] != "hide-all" {
		t.Errorf("GET level = %v", got)
	}

	w = e.do(t, http.MethodPut, "/level", LevelRequest{Level: "sideways"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad level = %d, want 400", w.Code)
	}
	w = e.do(t, http.MethodPut, "/level", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestActivity(t *testing.T) {
	e := testEnv(t)
	w := e.do(t, http.MethodPost, "/activity", ActivityRequest{Kind: "pointer"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	e.do(t, http.MethodPost, "/activity", nil)
	if n := e.touches.n.Load(); n != 2 {
		t.Errorf("touches = %d, want 2", n)
	}
}

func TestCommands_CountAsActivity(t *testing.T) {
	e := testEnv(t)
	e.do(t, http.MethodPost, "/commands/reveal-all", nil)
	e.do(t, http.MethodPut, "/level", LevelRequest{Level: "hide-private"})
	if n := e.touches.n.Load(); n != 2 {
		t.Errorf("touches = %d, want 2", n)
	}
}

func TestIdleLock_CommandUnlockHolds(t *testing.T) {
	e := testEnv(t)
	s := e.ctrl.Settings()
	s.BlurOnIdleTimeoutSeconds = 5
	if err := e.ctrl.UpdateSettings(s); err != nil {
		t.Fatal(err)
	}

	mon := idle.NewMonitor(e.ctrl, testutil.QuietLogger())
	e.deps.Activity = mon
	e.router = NewRouter(e.deps, false, "", nil)

	t0 := time.Now()
	mon.TouchAt(t0.Add(-6 * time.Second))
	if !mon.Tick(t0) {
		t.Fatal("idle lock should fire after the timeout")
	}
	if e.ctrl.Level() != visibility.HideAll {
		t.Fatalf("level = %s, want hide-all", e.ctrl.Level())
	}

	w := e.do(t, http.MethodPost, "/commands/reveal-all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	mon.Tick(time.Now().Add(time.Second))
	if e.ctrl.Level() != visibility.RevealAll {
		t.Errorf("level one tick after unlock = %s, want reveal-all", e.ctrl.Level())
	}
}

func TestSettings_ConcurrentPartialUpdates(t *testing.T) {
	e := testEnv(t)

	done := make(chan int, 2)
	go func() {
		done <- e.do(t, http.MethodPut, "/settings", map[string]any{"hoverToReveal": false}).Code
	}()
	go func() {
		done <- e.do(t, http.MethodPut, "/settings", map[string]any{"privateDirs": "finance"}).Code
	}()
	for i := 0; i < 2; i++ {
		if code := <-done; code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
	}

	got := e.ctrl.Settings()
	if got.HoverToReveal {
		t.Error("hoverToReveal edit lost")
	}
	if len(got.PrivateDirs) != 1 || got.PrivateDirs[0] != "finance" {
		t.Errorf("privateDirs edit lost: %v", got.PrivateDirs)
	}

	// The file holds both edits too.
	data, err := os.ReadFile(filepath.Join(e.vaultDir, ".veil", "settings.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "finance") || !strings.Contains(string(data), "hoverToReveal: false") {
		t.Errorf("settings file missing an edit:\n%s", data)
	}
}

func TestSettings_GetDefaults(t *testing.T) {
	e := testEnv(t)
	w := e.do(t, http.MethodGet, "/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[map[string]any](t, w)
	want := map[string]any{
		"blurOnStartup":            "hide-private",
		"blurLevel":                0.3,
		"blurOnIdleTimeoutSeconds": float64(-1),
		"hoverToReveal":            true,
		"revealUnderCaret":         false,
		"privateDirs":              "",
		"privateNoteMarker":        "#private",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestSettings_PartialUpdatePersistsAndRecomputes(t *testing.T) {
	e := testEnv(t)
	q1 := e.openPanel(t, workspace.KindMarkdown, "finance/q1.md")

	w := e.do(t, http.MethodPut, "/settings", `{"privateDirs":"finance, archive"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	got := decode[map[string]any](t, w)
	if got["privateDirs"] != "finance,archive" || got["hoverToReveal"] != true {
		t.Errorf("merged = %v", got)
	}

	data, err := os.ReadFile(filepath.Join(e.vaultDir, filepath.FromSlash(prefs.DefaultPath)))
	if err != nil {
		t.Fatalf("settings not saved: %v", err)
	}
	if !strings.Contains(string(data), "finance,archive") {
		t.Errorf("saved file = %s", data)
	}

	st, _ := e.ctrl.Snapshot()
	for _, id := range st.Revealed {
		if id == q1.ID {
			t.Error("note in new private dir should be hidden")
		}
	}

	w = e.do(t, http.MethodGet, "/style.css", nil)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), `[data-path^="finance"]`) {
		t.Errorf("stylesheet missing private dir rule:\n%s", w.Body.String())
	}
}

func TestSettings_InvalidRejected(t *testing.T) {
	e := testEnv(t)
	for _, body := range []string{`{"blurLevel": 5}`, `{"blurOnStartup":"nope"}`, `[`} {
		w := e.do(t, http.MethodPut, "/settings", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
		}
	}
	if e.ctrl.Settings().BlurLevel != 0.3 {
		t.Error("rejected update must not change settings")
	}
}

func TestPanels_Lifecycle(t *testing.T) {
	e := testEnv(t)

	day := e.openPanel(t, workspace.KindMarkdown, "journal/day.md")
	plan := e.openPanel(t, workspace.KindMarkdown, "work/plan.md")
	e.openPanel(t, workspace.KindGraph, "")

	w := e.do(t, http.MethodGet, "/panels", nil)
	if got := decode[PanelListResponse](t, w); len(got.Panels) != 3 {
		t.Fatalf("panels = %d, want 3", len(got.Panels))
	}

	st := decode[controller.State](t, e.do(t, http.MethodGet, "/state", nil))
	revealed := map[string]bool{}
	for _, id := range st.Revealed {
		revealed[id] = true
	}
	if revealed[day.ID] {
		t.Error("#private note should be hidden")
	}
	if !revealed[plan.ID] {
		t.Error("note tagged without marker should be revealed")
	}
	if st.Hooked != 3 {
		t.Errorf("hooked = %d, want 3", st.Hooked)
	}

	w = e.do(t, http.MethodPut, "/panels/"+plan.ID, workspace.Target{Kind: workspace.KindMarkdown, Path: "finance/q1.md"})
	if w.Code != http.StatusOK {
		t.Fatalf("switch status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[workspace.PanelInfo](t, w); got.Path != "finance/q1.md" {
		t.Errorf("switched path = %q", got.Path)
	}

	if w := e.do(t, http.MethodPost, "/panels/"+day.ID+"/activate", nil); w.Code != http.StatusNoContent {
		t.Errorf("activate = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/panels/"+day.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("close = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/panels/"+day.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("close twice = %d, want 404", w.Code)
	}
}

func TestPanels_Errors(t *testing.T) {
	e := testEnv(t)

	if w := e.do(t, http.MethodPost, "/panels", workspace.Target{Kind: workspace.KindMarkdown, Path: "ghost.md"}); w.Code != http.StatusNotFound {
		t.Errorf("open missing note = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/panels", workspace.Target{Kind: "canvas"}); w.Code != http.StatusBadRequest {
		t.Errorf("open unknown kind = %d, want 400", w.Code)
	}

	p := e.openPanel(t, workspace.KindMarkdown, "work/plan.md")
	w := e.do(t, http.MethodPut, "/panels/"+p.ID, workspace.Target{Kind: workspace.KindMarkdown, Path: "ghost.md"})
	if w.Code != http.StatusNotFound {
		t.Errorf("switch to missing note = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/panels/nope", workspace.Target{Kind: workspace.KindGraph}); w.Code != http.StatusNotFound {
		t.Errorf("switch unknown panel = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/panels/nope/activate", nil); w.Code != http.StatusNotFound {
		t.Errorf("activate unknown panel = %d, want 404", w.Code)
	}
}

func TestStyle_HeadlinesOnly(t *testing.T) {
	e := testEnv(t)
	p := e.openPanel(t, workspace.KindMarkdown, "work/plan.md")
	e.do(t, http.MethodPost, "/commands/reveal-headlines-only", nil)

	d := decode[style.Directives](t, e.do(t, http.MethodGet, "/style", nil))
	if len(d.GlobalClasses) == 0 || d.GlobalClasses[0] != style.ClassRevealHeadlines {
		t.Errorf("global classes = %v", d.GlobalClasses)
	}
	if len(d.Panels) != 1 || d.Panels[0].ID != p.ID {
		t.Fatalf("panels = %+v", d.Panels)
	}
	want := []string{"Plan", "Risks"}
	if strings.Join(d.Panels[0].Headings, "|") != strings.Join(want, "|") {
		t.Errorf("headings = %v, want %v", d.Panels[0].Headings, want)
	}
}

func TestNoteVisibility(t *testing.T) {
	e := testEnv(t)

	w := e.do(t, http.MethodGet, "/visibility?path=journal/day.md", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decode[controller.NoteDecision](t, w)
	if got.Decision.Reveal || got.Decision.Rule != visibility.RuleMarkerTag {
		t.Errorf("decision = %+v", got.Decision)
	}

	got = decode[controller.NoteDecision](t, e.do(t, http.MethodGet, "/visibility?path=journal/day.md&level=reveal-all", nil))
	if !got.Decision.Reveal {
		t.Error("reveal-all should reveal")
	}

	if w := e.do(t, http.MethodGet, "/visibility", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing path = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/visibility?path=a.md&level=x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad level = %d, want 400", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	e := testEnv(t)

	got := decode[NoteListResponse](t, e.do(t, http.MethodGet, "/notes", nil))
	if got.Total != 3 {
		t.Fatalf("total = %d, want 3", got.Total)
	}

	got = decode[NoteListResponse](t, e.do(t, http.MethodGet, "/notes?folder=work", nil))
	if got.Total != 1 || got.Notes[0].Path != "work/plan.md" {
		t.Fatalf("work notes = %+v", got.Notes)
	}
	if len(got.Notes[0].Tags) != 1 || got.Notes[0].Tags[0] != "#project" {
		t.Errorf("tags = %v", got.Notes[0].Tags)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnvFull(t, true, "secret123", nil)

	req := httptest.NewRequest(http.MethodPost, "/commands/hide-all", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed command = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnvFull(t, true, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnvFull(t, true, "secret123", nil)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	// A token that only shares a prefix is rejected too.
	req = httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Authorization", "Bearer secret1234")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("prefix token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

// blockingSSE writes headers and blocks until the request context is done.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvFull(t, true, "secret", blockingSSE)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_AuthDisabled(t *testing.T) {
	e := testEnvFull(t, false, "", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE should not require auth when disabled")
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvFull(t, true, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}
