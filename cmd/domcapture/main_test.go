package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/domcapture/bridge"
	"github.com/hazyhaar/domcapture/profile"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		args []string
		cmd  string
		rest int
	}{
		{nil, "pick", 0},
		{[]string{"https://example.com"}, "pick", 1},
		{[]string{"-video", "https://example.com"}, "pick", 2},
		{[]string{"serve", "-dir", "x"}, "serve", 2},
		{[]string{"check"}, "check", 0},
		{[]string{"mcp"}, "mcp", 0},
		{[]string{"--help"}, "help", 0},
	}
	for _, c := range cases {
		cmd, rest := splitCommand(c.args)
		if cmd != c.cmd || len(rest) != c.rest {
			t.Errorf("splitCommand(%v) = %s %v, want %s with %d args", c.args, cmd, rest, c.cmd, c.rest)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("DEBUG") != slog.LevelDebug || parseLevel("warn") != slog.LevelWarn || parseLevel("bogus") != slog.LevelInfo {
		t.Error("unexpected level mapping")
	}
}

func TestBridgeURL(t *testing.T) {
	cases := map[string]string{
		"":                              "",
		"http://127.0.0.1:8765":         "http://127.0.0.1:8765/bridge",
		"http://127.0.0.1:8765/":        "http://127.0.0.1:8765/bridge",
		"http://127.0.0.1:8765/bridge/": "http://127.0.0.1:8765/bridge",
	}
	for in, want := range cases {
		if got := bridgeURL(in); got != want {
			t.Errorf("bridgeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseInterspersed(t *testing.T) {
	cases := []struct {
		args  []string
		rest  []string
		video bool
		name  string
	}{
		{[]string{"-video", "https://example.com"}, []string{"https://example.com"}, true, "default"},
		{[]string{"https://example.com", "-video", "--profile", "work"}, []string{"https://example.com"}, true, "work"},
		{[]string{"a", "-profile=x", "b"}, []string{"a", "b"}, false, "x"},
		{[]string{"-profile", "y", "--", "-video"}, []string{"-video"}, false, "y"},
		{nil, nil, false, "default"},
	}
	for _, c := range cases {
		fs := flag.NewFlagSet("pick", flag.ContinueOnError)
		video := fs.Bool("video", false, "")
		name := fs.String("profile", "default", "")
		rest, err := parseInterspersed(fs, c.args)
		if err != nil {
			t.Fatalf("%v: %v", c.args, err)
		}
		if strings.Join(rest, "|") != strings.Join(c.rest, "|") || *video != c.video || *name != c.name {
			t.Errorf("%v: rest=%v video=%v profile=%q", c.args, rest, *video, *name)
		}
	}
}

func TestPickFlagsAfterURL(t *testing.T) {
	cfgPath := writeConfig(t, filepath.Join(t.TempDir(), "profiles"))
	// The profile name is validated before Chrome starts, so a flag that is
	// honoured after the URL fails fast.
	err := cmdPick([]string{"-config", cfgPath, "-log-level", "error", "https://example.com", "--profile", "bad/name"})
	if err == nil || !strings.Contains(err.Error(), "invalid name") {
		t.Fatalf("err = %v, want invalid name for bad/name", err)
	}
	if !strings.Contains(err.Error(), `"bad/name"`) {
		t.Errorf("err = %v, want the rejected profile named", err)
	}

	err = cmdPick([]string{"-config", cfgPath, "https://a.example", "https://b.example"})
	if err == nil || !strings.Contains(err.Error(), "unexpected arguments") {
		t.Errorf("err = %v, want unexpected arguments", err)
	}
}

func writeConfig(t *testing.T, profilesDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domcapture.yaml")
	cfg := "profiles:\n  backend: file\n  dir: " + profilesDir + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "profiles")
	cfgPath := writeConfig(t, profilesDir)
	page := filepath.Join(dir, "page.html")
	if err := os.WriteFile(page, []byte("<html><body><h1>Hello</h1></body></html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := cmdCheck([]string{"-config", cfgPath, "-log-level", "error", "-profile", "sample", "-html", page}, &out)
	if err != nil {
		t.Fatalf("check sample: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "OK    h1") {
		t.Errorf("output = %q", out.String())
	}

	store := profile.NewFileStore(profilesDir)
	doc := []byte(`{"name":"broken","items":[{"selector":"h1"},{"selector":"#missing"}]}`)
	if err := store.Put(context.Background(), profile.Selection, "broken", doc); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	err = cmdCheck([]string{"-config", cfgPath, "-log-level", "error", "-profile", "broken", "-html", page}, &out)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Fatalf("err = %v, want 1 of 2 unresolved", err)
	}
	if !strings.Contains(out.String(), "MISS  #missing") {
		t.Errorf("output = %q", out.String())
	}
}

func TestCheckRequiresFlags(t *testing.T) {
	if err := cmdCheck([]string{"-profile", "sample"}, io.Discard); err == nil {
		t.Fatal("expected error without -html")
	}
}

func TestServeHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"results":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	store := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := profile.Seed(ctx, store, logger); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(serveHandler(store, dir, logger))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/manifest.json")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "results") {
		t.Errorf("manifest: %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Security-Policy") == "" {
		t.Error("missing security headers")
	}

	resp, err = http.Post(srv.URL+"/bridge/"+string(bridge.OpGetConfig), "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var cfg bridge.ConfigReply
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode getConfig: %v", err)
	}
	if len(cfg.BrowserProfiles) != 2 || cfg.CurrentBrowserProfile != "default" {
		t.Errorf("config = %+v", cfg)
	}
}

func TestServeRefusesCrossSiteWrites(t *testing.T) {
	ctx := context.Background()
	store := profile.NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := profile.Seed(ctx, store, logger); err != nil {
		t.Fatal(err)
	}
	before, err := store.Get(ctx, profile.Browser, "default")
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(serveHandler(store, "", logger))
	defer srv.Close()

	// What a page on another site can send with fetch(..., {mode: "no-cors"}).
	body := `{"name":"default","content":"proxy: http://attacker.test:3128\n"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/bridge/"+string(bridge.OpSaveBrowserProfile), strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	req.Header.Set("Origin", "https://attacker.test")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	after, err := store.Get(ctx, profile.Browser, "default")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("default profile changed to %q", after)
	}

	// The forwarding client of a pick session still gets through.
	remote := bridge.NewRouter()
	bridge.RegisterRemote(remote, srv.URL+"/bridge", srv.Client())
	out, err := remote.Call(ctx, bridge.OpLoadBrowserProfile, []byte("default"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, before) {
		t.Errorf("remote load = %q, want %q", out, before)
	}
}
