package domcapture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/domcapture/bridge"
	"github.com/hazyhaar/domcapture/capture"
	"github.com/hazyhaar/domcapture/picker"
	"github.com/hazyhaar/domcapture/profile"
	"github.com/hazyhaar/domcapture/selection"
)

type fakeElement struct{ text string }

func (e fakeElement) Box(context.Context) (*selection.Box, error) {
	return &selection.Box{Width: 10, Height: 10}, nil
}
func (e fakeElement) Text(context.Context, time.Duration) (string, error) { return e.text, nil }
func (e fakeElement) Screenshot(context.Context) ([]byte, error)          { return []byte("png"), nil }
func (e fakeElement) MediaURL(context.Context) (string, error)            { return "", nil }

type fakeCapturePage struct{ t *fakeTab }

func (p fakeCapturePage) URL(ctx context.Context) string { return p.t.URL(ctx) }
func (p fakeCapturePage) Locate(_ context.Context, sel string, _ time.Duration) (capture.Element, error) {
	text, ok := p.t.elements[sel]
	if !ok {
		return nil, fmt.Errorf("no match for %q", sel)
	}
	return fakeElement{text: text}, nil
}
func (p fakeCapturePage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }
func (p fakeCapturePage) HTML(context.Context) (string, error)       { return "<html></html>", nil }

// fakeTab plays a page with the picker script loaded: snapshots always
// report snap, or errSnap when set.
type fakeTab struct {
	url      string
	elements map[string]string
	snap     picker.Snapshot
	errSnap  error
	navErrs  []error

	mu      sync.Mutex
	navs    int
	scripts []string
	exposed map[string]func(context.Context, string) string
}

func (f *fakeTab) Eval(_ context.Context, js string) (gson.JSON, error) {
	switch {
	case strings.Contains(js, "status()"):
		if f.errSnap != nil {
			return gson.JSON{}, f.errSnap
		}
		data, _ := json.Marshal(picker.Status{
			Active: f.snap.Active, PickMode: f.snap.PickMode,
			Done: f.snap.Done, Canceled: f.snap.Canceled,
			Count: len(f.snap.Selections),
		})
		return gson.New(string(data)), nil
	case strings.Contains(js, "snapshot()"):
		if f.errSnap != nil {
			return gson.JSON{}, f.errSnap
		}
		data, _ := json.Marshal(f.snap)
		return gson.New(string(data)), nil
	default:
		return gson.New(true), nil
	}
}

func (f *fakeTab) Expose(_ context.Context, name string, fn func(context.Context, string) string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exposed == nil {
		f.exposed = make(map[string]func(context.Context, string) string)
	}
	f.exposed[name] = fn
	return nil
}

func (f *fakeTab) URL(context.Context) string { return f.url }

func (f *fakeTab) AddInitScript(js string) error {
	f.mu.Lock()
	f.scripts = append(f.scripts, js)
	f.mu.Unlock()
	return nil
}

func (f *fakeTab) Navigate(context.Context, string, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navs++
	if len(f.navErrs) > 0 {
		err := f.navErrs[0]
		f.navErrs = f.navErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTab) CapturePage() capture.Page { return fakeCapturePage{f} }

func (f *fakeTab) RequestClient(context.Context, int) (*http.Client, error) {
	return &http.Client{Timeout: time.Second}, nil
}

var fixedNow = time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)

func newTestSession(t *testing.T) (*Session, *[]string) {
	t.Helper()
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Capture.OutputRoot = filepath.Join(t.TempDir(), "out")
	cfg.Navigation.Backoff = []time.Duration{time.Millisecond}
	cfg.Picker.PollInterval = time.Millisecond

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	if err := profile.Seed(ctx, store, logger); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s := New(cfg, store, WithLogger(logger))
	s.now = func() time.Time { return fixedNow }
	var opened []string
	s.open = func(dir string) error {
		opened = append(opened, dir)
		return nil
	}
	return s, &opened
}

func captureDirs(t *testing.T, s *Session) []string {
	t.Helper()
	entries, err := os.ReadDir(s.cfg.Capture.OutputRoot)
	if err != nil {
		t.Fatalf("read output root: %v", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "capture_") {
			out = append(out, filepath.Join(s.cfg.Capture.OutputRoot, e.Name()))
		}
	}
	return out
}

func runPick(t *testing.T, s *Session, tab *fakeTab) error {
	t.Helper()
	dir, err := capture.NewOutputDir(s.cfg.Capture.OutputRoot, s.now())
	if err != nil {
		t.Fatalf("output dir: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.pick(ctx, tab, dir, Options{
		URL:            "https://example.com/page",
		BrowserProfile: "default",
		OpenFolder:     true,
	})
}

func TestPickExportsSelections(t *testing.T) {
	s, opened := newTestSession(t)
	tab := &fakeTab{
		url:      "https://example.com/page",
		elements: map[string]string{"h1": "Title"},
		navErrs: []error{
			errors.New("navigate: net::ERR_CONNECTION_RESET"),
			errors.New("navigate: net::ERR_NAME_NOT_RESOLVED"),
		},
		snap: picker.Snapshot{Active: true, Done: true, Selections: []selection.Selection{
			{Selector: "h1", Tag: "h1", Kind: selection.KindElement},
			{Selector: "#gone", Tag: "div", Kind: selection.KindElement},
		}},
	}

	if err := runPick(t, s, tab); err != nil {
		t.Fatalf("pick: %v", err)
	}
	if tab.navs != 3 {
		t.Errorf("navigations = %d, want 3", tab.navs)
	}
	if len(tab.scripts) != 1 || !strings.Contains(tab.scripts[0], `"bridgePrefix":"domcapture"`) {
		t.Errorf("init script not installed with bridge prefix: %d scripts", len(tab.scripts))
	}
	if _, ok := tab.exposed[bridge.ExposedName(bridge.DefaultPrefix, bridge.OpGetConfig)]; !ok {
		t.Errorf("getConfig not exposed; got %d bindings", len(tab.exposed))
	}

	dirs := captureDirs(t, s)
	if len(dirs) != 1 {
		t.Fatalf("capture dirs = %v, want 1", dirs)
	}
	m, err := capture.ReadManifest(dirs[0])
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Label != "default" {
		t.Errorf("label = %q", m.Label)
	}
	if len(m.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(m.Results))
	}
	if m.Results[0].InnerText != "Title" || m.Results[0].Error != "" {
		t.Errorf("result 1 = %+v", m.Results[0])
	}
	if !strings.HasPrefix(m.Results[1].Error, "not found: ") {
		t.Errorf("result 2 error = %q", m.Results[1].Error)
	}
	if len(*opened) != 1 || (*opened)[0] != dirs[0] {
		t.Errorf("opened = %v", *opened)
	}
}

func TestPickFatalNavigation(t *testing.T) {
	s, _ := newTestSession(t)
	tab := &fakeTab{navErrs: []error{errors.New("net::ERR_CERT_AUTHORITY_INVALID")}}

	err := runPick(t, s, tab)
	if err == nil || !strings.Contains(err.Error(), "ERR_CERT_AUTHORITY_INVALID") {
		t.Fatalf("err = %v", err)
	}
	if tab.navs != 1 {
		t.Errorf("navigations = %d, want 1", tab.navs)
	}
	if dirs := captureDirs(t, s); len(dirs) != 0 {
		t.Errorf("capture dirs left behind: %v", dirs)
	}
}

func TestPickEndsWithoutExport(t *testing.T) {
	cases := map[string]*fakeTab{
		"canceled": {snap: picker.Snapshot{Active: true, Canceled: true,
			Selections: []selection.Selection{{Selector: "h1"}}}},
		"no selections": {snap: picker.Snapshot{Active: true, Done: true}},
		"page closed":   {errSnap: fmt.Errorf("eval: %w", picker.ErrPageClosed)},
	}
	for name, tab := range cases {
		t.Run(name, func(t *testing.T) {
			s, opened := newTestSession(t)
			if err := runPick(t, s, tab); err != nil {
				t.Fatalf("pick: %v", err)
			}
			if dirs := captureDirs(t, s); len(dirs) != 0 {
				t.Errorf("capture dirs left behind: %v", dirs)
			}
			if len(*opened) != 0 {
				t.Errorf("folder opened: %v", *opened)
			}
		})
	}
}

func TestInstallFromProfile(t *testing.T) {
	s, _ := newTestSession(t)
	tab := &fakeTab{url: "https://example.com/", elements: map[string]string{"h1": "Hello"}}
	s.attach(tab, Options{BrowserProfile: "default"})
	ctx := context.Background()

	out := s.Router().Dispatch(ctx, bridge.OpInstallFromProfile, []byte(`{"selProfile":"sample","selIndex":0}`))
	if string(out) != "OK" {
		t.Fatalf("install = %q", out)
	}
	out = s.Router().Dispatch(ctx, bridge.OpInstallFromProfile, []byte(`{"selProfile":"sample","selIndex":1}`))
	if string(out) != "OK" {
		t.Fatalf("second install = %q", out)
	}

	dirs := captureDirs(t, s)
	if len(dirs) != 2 {
		t.Fatalf("capture dirs = %v, want 2 siblings", dirs)
	}
	for _, d := range dirs {
		m, err := capture.ReadManifest(d)
		if err != nil {
			t.Fatalf("manifest %s: %v", d, err)
		}
		if m.Label != "default / sample" {
			t.Errorf("label = %q", m.Label)
		}
		if len(m.Results) != 1 || m.Results[0].InnerText != "Hello" {
			t.Errorf("results = %+v", m.Results)
		}
	}
}

func TestInstallWithoutPage(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.Install(context.Background(), []selection.Selection{{Selector: "h1"}}, "x")
	if !errors.Is(err, bridge.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestGetConfigReportsLivePage(t *testing.T) {
	s, _ := newTestSession(t)
	s.attach(&fakeTab{url: "https://example.com/live"}, Options{})
	s.profileName = "stealth"

	var cfg bridge.ConfigReply
	out := s.Router().Dispatch(context.Background(), bridge.OpGetConfig, nil)
	if err := json.Unmarshal(out, &cfg); err != nil {
		t.Fatalf("decode %s: %v", out, err)
	}
	if cfg.CurrentURL != "https://example.com/live" {
		t.Errorf("currentUrl = %q", cfg.CurrentURL)
	}
	if cfg.CurrentBrowserProfile != "stealth" {
		t.Errorf("currentBrowserProfile = %q", cfg.CurrentBrowserProfile)
	}
}

func TestStartURL(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	if got := s.startURL(ctx, " https://a.test/ "); got != "https://a.test/" {
		t.Errorf("explicit = %q", got)
	}
	if got := s.startURL(ctx, ""); got != "https://example.com" {
		t.Errorf("seeded = %q", got)
	}
	if err := profile.SaveURLs(ctx, s.store, []profile.URLProfile{{Name: "blank"}, {Name: "b", URL: "https://b.test"}}); err != nil {
		t.Fatal(err)
	}
	if got := s.startURL(ctx, ""); got != "https://b.test" {
		t.Errorf("first non-blank = %q", got)
	}

	empty := New(nil, profile.NewFileStore(t.TempDir()))
	if got := empty.startURL(ctx, ""); got != DefaultStartURL {
		t.Errorf("fallback = %q", got)
	}
}
