package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Navigation.MaxAttempts != 6 {
		t.Errorf("max attempts: got %d, want 6", cfg.Navigation.MaxAttempts)
	}
	if len(cfg.Navigation.Backoff) != 6 || cfg.Navigation.Backoff[5] != 4500*time.Millisecond {
		t.Errorf("backoff: got %v", cfg.Navigation.Backoff)
	}
	if cfg.Capture.LocateTimeout != 3500*time.Millisecond {
		t.Errorf("locate timeout: got %v", cfg.Capture.LocateTimeout)
	}
	if cfg.Picker.ToggleKey != "F8" || cfg.Picker.CancelKey != "Escape" {
		t.Errorf("keys: got %+v", cfg.Picker)
	}
	if !cfg.Browser.StealthEnabled() || !cfg.Capture.MarkdownEnabled() {
		t.Error("stealth and markdown should default to enabled")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domcapture.yaml")
	yml := `
browser:
  headless: true
  stealth: false
navigation:
  max_attempts: 2
  backoff: [10ms, 20ms]
capture:
  output_root: /tmp/out
  open_folder: false
profiles:
  backend: sqlite
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.Browser.Headless || cfg.Browser.StealthEnabled() {
		t.Errorf("browser: got %+v", cfg.Browser)
	}
	if cfg.Navigation.MaxAttempts != 2 || cfg.Navigation.Backoff[1] != 20*time.Millisecond {
		t.Errorf("navigation: got %+v", cfg.Navigation)
	}
	if cfg.Capture.OpenFolderEnabled() {
		t.Error("open_folder: false was ignored")
	}
	if cfg.Profiles.Backend != "sqlite" || cfg.Profiles.DB != "profiles.db" {
		t.Errorf("profiles: got %+v", cfg.Profiles)
	}
	if cfg.Navigation.Timeout != 60*time.Second {
		t.Errorf("timeout default: got %v", cfg.Navigation.Timeout)
	}
}

func TestLoadFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("browser: [\n"), 0o644)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}
