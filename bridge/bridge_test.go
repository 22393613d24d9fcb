package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domcapture/profile"
	"github.com/hazyhaar/domcapture/selection"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeHost struct {
	url     string
	profile string
	label   string
	sels    []selection.Selection
	err     error
}

func (h *fakeHost) CurrentURL(context.Context) string { return h.url }
func (h *fakeHost) BrowserProfile() string            { return h.profile }
func (h *fakeHost) Install(_ context.Context, sels []selection.Selection, label string) error {
	h.sels, h.label = sels, label
	return h.err
}

func setup(t *testing.T) (*Router, *fakeHost, profile.Store) {
	t.Helper()
	store := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	if err := profile.Seed(context.Background(), store, quiet); err != nil {
		t.Fatal(err)
	}
	host := &fakeHost{url: "https://example.com/page", profile: "default"}
	r := NewRouter(WithLogger(quiet))
	NewService(store, host, WithServiceLogger(quiet)).Register(r)
	return r, host, store
}

func call(r *Router, op Op, payload string) string {
	return string(r.Dispatch(context.Background(), op, []byte(payload)))
}

func TestExposedName(t *testing.T) {
	if got := ExposedName(DefaultPrefix, OpGetConfig); got != "domcaptureGetConfig" {
		t.Errorf("got %q", got)
	}
	if got := ExposedName("x", OpSaveURLProfiles); got != "xSaveUrlProfiles" {
		t.Errorf("got %q", got)
	}
}

func TestUnknownOp(t *testing.T) {
	r := NewRouter(WithLogger(quiet))
	_, err := r.Call(context.Background(), "nope", nil)
	var unknown *ErrUnknownOp
	if !errors.As(err, &unknown) || unknown.Op != "nope" {
		t.Fatalf("err = %v", err)
	}
	if got := call(r, "nope", ""); !strings.HasPrefix(got, "ERR: ") {
		t.Errorf("dispatch = %q", got)
	}
}

func TestRecoveryFoldsPanics(t *testing.T) {
	r := NewRouter(WithLogger(quiet))
	boom := func(context.Context, []byte) ([]byte, error) { panic("boom") }
	r.Register(OpSaveURLProfiles, boom)
	r.Register(OpGetConfig, boom)

	if got := call(r, OpSaveURLProfiles, "{}"); got != "ERR: bridge: handler panicked: boom" {
		t.Errorf("save = %q", got)
	}
	var obj map[string]string
	if err := json.Unmarshal(r.Dispatch(context.Background(), OpGetConfig, nil), &obj); err != nil || obj["error"] == "" {
		t.Errorf("getConfig failure = %v %v", obj, err)
	}
}

func TestGetConfig(t *testing.T) {
	r, _, _ := setup(t)
	var cfg ConfigReply
	if err := json.Unmarshal(r.Dispatch(context.Background(), OpGetConfig, nil), &cfg); err != nil {
		t.Fatal(err)
	}
	if strings.Join(cfg.BrowserProfiles, ",") != "default,stealth" {
		t.Errorf("browser profiles = %v", cfg.BrowserProfiles)
	}
	if cfg.CurrentBrowserProfile != "default" || cfg.CurrentURL != "https://example.com/page" {
		t.Errorf("current = %q %q", cfg.CurrentBrowserProfile, cfg.CurrentURL)
	}
	if len(cfg.URLProfiles) != 1 || cfg.URLProfiles[0].Name != "Example" {
		t.Errorf("url profiles = %+v", cfg.URLProfiles)
	}
	if strings.Join(cfg.SelectionProfiles, ",") != "sample" {
		t.Errorf("selection profiles = %v", cfg.SelectionProfiles)
	}
}

func TestSaveURLProfiles(t *testing.T) {
	r, _, store := setup(t)
	if got := call(r, OpSaveURLProfiles, `{"profiles":{"name":"x"}}`); got != "ERR: profiles must be array" {
		t.Errorf("non-array = %q", got)
	}
	if got := call(r, OpSaveURLProfiles, `not json`); !strings.HasPrefix(got, "ERR: ") {
		t.Errorf("bad json = %q", got)
	}
	if got := call(r, OpSaveURLProfiles, `{"profiles":[{"name":"Docs","url":"https://go.dev/doc"}]}`); got != "OK" {
		t.Fatalf("save = %q", got)
	}
	urls := profile.LoadURLs(context.Background(), store)
	if len(urls) != 1 || urls[0].URL != "https://go.dev/doc" {
		t.Errorf("saved = %+v", urls)
	}
}

func TestBrowserProfileRoundTrip(t *testing.T) {
	r, _, _ := setup(t)
	content := "viewport_width: 800\r\nviewport_height: 600\r\n"
	payload, _ := json.Marshal(BrowserProfileRequest{Name: "small", Content: content})
	got := call(r, OpSaveBrowserProfile, string(payload))
	want := "OK: saved profiles/small.yaml (41 bytes)"
	if got != want {
		t.Errorf("save = %q, want %q", got, want)
	}
	if got := call(r, OpLoadBrowserProfile, "small"); got != "viewport_width: 800\nviewport_height: 600\n" {
		t.Errorf("load = %q", got)
	}
	if got := call(r, OpLoadBrowserProfile, "missing"); got != "" {
		t.Errorf("missing = %q", got)
	}
	if got := call(r, OpLoadBrowserProfile, "../etc/passwd"); got != "" {
		t.Errorf("traversal = %q", got)
	}
}

func TestNameValidation(t *testing.T) {
	r, _, _ := setup(t)
	bad := []string{"a/b", "has space", "tab\tname", strings.Repeat("a", 81), "..", "é"}
	for _, name := range bad {
		bp, _ := json.Marshal(BrowserProfileRequest{Name: name, Content: "viewport_width: 1"})
		if got := call(r, OpSaveBrowserProfile, string(bp)); got != "ERR: invalid name (use letters/numbers/._-)" {
			t.Errorf("browser %q: %q", name, got)
		}
		sp, _ := json.Marshal(map[string]any{"name": name, "items": []any{}})
		if got := call(r, OpSaveSelectionProfile, string(sp)); got != "ERR: invalid name (use letters/numbers/._-)" {
			t.Errorf("selection %q: %q", name, got)
		}
	}
	if got := call(r, OpSaveBrowserProfile, `{"name":"  ","content":""}`); got != "ERR: missing name" {
		t.Errorf("blank = %q", got)
	}
	if got := call(r, OpSaveSelectionProfile, `{"items":[]}`); got != "ERR: missing name" {
		t.Errorf("blank selection = %q", got)
	}
	ok, _ := json.Marshal(BrowserProfileRequest{Name: strings.Repeat("a", 80), Content: ""})
	if got := call(r, OpSaveBrowserProfile, string(ok)); !strings.HasPrefix(got, "OK: saved ") {
		t.Errorf("80 chars = %q", got)
	}
}

func TestSelectionProfileRoundTrip(t *testing.T) {
	r, _, _ := setup(t)
	if got := call(r, OpSaveSelectionProfile, `{"name":"news","items":{}}`); got != "ERR: items must be array" {
		t.Errorf("non-array = %q", got)
	}
	payload := `{"name":"news","createdAt":"2026-01-01T00:00:00Z","items":[{"selector":"h1","tag":"h1","kind":"element","text":"Title"}]}`
	got := call(r, OpSaveSelectionProfile, payload)
	if !strings.HasPrefix(got, "OK: saved profiles/selection_profiles/news.json (") {
		t.Errorf("save = %q", got)
	}
	var back selection.Profile
	if err := json.Unmarshal([]byte(call(r, OpLoadSelectionProfile, "news")), &back); err != nil {
		t.Fatal(err)
	}
	if back.CreatedAt != "2026-01-01T00:00:00Z" || len(back.Items) != 1 || back.Items[0].Text != "Title" {
		t.Errorf("loaded = %+v", back)
	}
	if got := call(r, OpLoadSelectionProfile, "absent"); got != "{}" {
		t.Errorf("absent = %q", got)
	}
}

func TestSelectionProfileStoresTrimmedName(t *testing.T) {
	r, _, store := setup(t)
	payload := `{"name":"  foo  ","createdAt":"2026-01-01T00:00:00Z","items":[{"selector":"h1"}]}`
	if got := call(r, OpSaveSelectionProfile, payload); !strings.HasPrefix(got, "OK: saved") {
		t.Fatalf("save = %q", got)
	}
	raw, err := store.Get(context.Background(), profile.Selection, "foo")
	if err != nil {
		t.Fatal(err)
	}
	var back selection.Profile
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Name != "foo" || back.CreatedAt != "2026-01-01T00:00:00Z" || len(back.Items) != 1 {
		t.Errorf("stored = %s", raw)
	}
	if !strings.Contains(string(raw), "\n  \"name\": \"foo\"") {
		t.Errorf("stored document is not indented: %s", raw)
	}
}

func TestLoggingTagsOp(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewRouter(WithLogger(logger))
	r.Register(OpSaveBrowserProfile, func(context.Context, []byte) ([]byte, error) { return []byte("ERR: missing name"), nil })
	r.Register(OpLoadBrowserProfile, func(context.Context, []byte) ([]byte, error) { return []byte("x: 1\n"), nil })
	r.Register(OpGetConfig, func(context.Context, []byte) ([]byte, error) { panic("boom") })

	call(r, OpSaveBrowserProfile, "{}")
	call(r, OpLoadBrowserProfile, "default")
	call(r, OpGetConfig, "")

	type entry struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Op    string `json:"op"`
	}
	var got []entry
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var e entry
		if err := dec.Decode(&e); err != nil {
			t.Fatal(err)
		}
		got = append(got, e)
	}
	want := []entry{
		{"WARN", "bridge: call refused", "saveBrowserProfile"},
		{"DEBUG", "bridge: call ok", "loadBrowserProfile"},
		{"ERROR", "bridge: handler panic recovered", "getConfig"},
		{"ERROR", "bridge: call failed", "getConfig"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d log lines: %+v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestChainPassesOp(t *testing.T) {
	var seen []string
	tag := func(name string) HandlerMiddleware {
		return func(op Op, next Handler) Handler {
			seen = append(seen, name+":"+string(op))
			return next
		}
	}
	r := NewRouter(WithMiddleware(tag("outer"), tag("inner")))
	r.Register(OpLoadSelectionProfile, func(context.Context, []byte) ([]byte, error) { return nil, nil })
	if strings.Join(seen, ",") != "inner:loadSelectionProfile,outer:loadSelectionProfile" {
		t.Errorf("wrap order = %v", seen)
	}

	_, err := NewRouter(WithLogger(quiet)).chain(OpGetConfig, func(context.Context, []byte) ([]byte, error) { panic("x") })(context.Background(), nil)
	var p *ErrPanic
	if !errors.As(err, &p) || p.Op != OpGetConfig {
		t.Errorf("err = %v", err)
	}
}

func TestInstallFromProfile(t *testing.T) {
	r, host, _ := setup(t)
	if got := call(r, OpInstallFromProfile, `{}`); got != "ERR: missing selProfile" {
		t.Errorf("missing = %q", got)
	}
	if got := call(r, OpInstallFromProfile, `{"selProfile":"nope"}`); !strings.HasPrefix(got, "ERR: selection profile not found") {
		t.Errorf("not found = %q", got)
	}

	call(r, OpSaveSelectionProfile, `{"name":"pair","items":[{"selector":"h1"},{"selector":"  "},{"selector":"img.hero","kind":"image"}]}`)
	if got := call(r, OpInstallFromProfile, `{"selProfile":"pair","selIndex":2}`); got != "ERR: no selections" {
		t.Errorf("blank item = %q", got)
	}
	if got := call(r, OpInstallFromProfile, `{"selProfile":"pair","selIndex":3}`); got != "OK" {
		t.Fatalf("install = %q", got)
	}
	if host.label != "default / pair" || len(host.sels) != 1 || host.sels[0].Kind != selection.KindImage {
		t.Errorf("host got %q %+v", host.label, host.sels)
	}
	if got := call(r, OpInstallFromProfile, `{"selProfile":"pair"}`); got != "OK" || len(host.sels) != 2 {
		t.Errorf("all = %q, %d selections", got, len(host.sels))
	}

	host.err = errors.New("capture: page closed")
	if got := call(r, OpInstallFromProfile, `{"selProfile":"pair"}`); got != "ERR: capture: page closed" {
		t.Errorf("host failure = %q", got)
	}
}

func TestInstallWithoutSession(t *testing.T) {
	store := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	profile.Seed(context.Background(), store, quiet)
	r := NewRouter(WithLogger(quiet))
	NewService(store, nil).Register(r)
	if got := call(r, OpInstallFromProfile, `{"selProfile":"sample"}`); got != "ERR: "+ErrNoSession.Error() {
		t.Errorf("got %q", got)
	}
}

type fakeExposer struct {
	fns map[string]func(context.Context, string) string
}

func (f *fakeExposer) Expose(_ context.Context, name string, fn func(context.Context, string) string) error {
	f.fns[name] = fn
	return nil
}

func TestBind(t *testing.T) {
	r, _, _ := setup(t)
	page := &fakeExposer{fns: map[string]func(context.Context, string) string{}}
	if err := Bind(context.Background(), page, "", r); err != nil {
		t.Fatal(err)
	}
	if len(page.fns) != len(AllOps) {
		t.Errorf("bound %d functions", len(page.fns))
	}
	fn, ok := page.fns["domcaptureLoadBrowserProfile"]
	if !ok {
		t.Fatal("load binding missing")
	}
	if got := fn(context.Background(), "default"); !strings.Contains(got, "viewport_width: 1400") {
		t.Errorf("load = %q", got)
	}
}

func TestHTTPAndRemote(t *testing.T) {
	r, _, _ := setup(t)
	mux := chi.NewRouter()
	mux.Mount("/bridge", Routes(r))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/bridge/nope", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown op status = %d", resp.StatusCode)
	}

	remote := NewRouter(WithLogger(quiet))
	RegisterRemote(remote, srv.URL+"/bridge/", srv.Client())
	if got := call(remote, OpLoadBrowserProfile, "stealth"); !strings.Contains(got, "timezone_id: America/New_York") {
		t.Errorf("remote load = %q", got)
	}
	if got := call(remote, OpSaveBrowserProfile, `{"name":"a b"}`); got != "ERR: invalid name (use letters/numbers/._-)" {
		t.Errorf("remote save = %q", got)
	}
	var cfg ConfigReply
	if err := json.Unmarshal(remote.Dispatch(context.Background(), OpGetConfig, nil), &cfg); err != nil || cfg.CurrentURL == "" {
		t.Errorf("remote config = %+v, %v", cfg, err)
	}
}

func TestMCPTools(t *testing.T) {
	r, _, _ := setup(t)
	impl := &mcp.Implementation{Name: "domcapture-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCP(srv, r)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != len(AllOps) {
		t.Errorf("tools = %d", len(tools.Tools))
	}

	text := func(name string, args any) string {
		t.Helper()
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		if err != nil {
			t.Fatalf("CallTool(%s): %v", name, err)
		}
		tc, ok := res.Content[0].(*mcp.TextContent)
		if !ok {
			t.Fatalf("CallTool(%s): expected TextContent", name)
		}
		return tc.Text
	}

	if got := text("bridge_loadBrowserProfile", map[string]any{"payload": "default"}); !strings.Contains(got, "viewport_height: 900") {
		t.Errorf("load = %q", got)
	}
	got := text("bridge_saveSelectionProfile", map[string]any{
		"payload": map[string]any{"name": "via-mcp", "items": []any{map[string]any{"selector": "#main"}}},
	})
	if !strings.HasPrefix(got, "OK: saved profiles/selection_profiles/via-mcp.json") {
		t.Errorf("save = %q", got)
	}
}
