// Package config handles domcapture configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level domcapture configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Navigation NavigationConfig `yaml:"navigation"`
	Picker     PickerConfig     `yaml:"picker"`
	Capture    CaptureConfig    `yaml:"capture"`
	Profiles   ProfilesConfig   `yaml:"profiles"`
	Serve      ServeConfig      `yaml:"serve"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote    string   `yaml:"remote"` // ws:// control URL of an already running browser
	Bin       string   `yaml:"bin"`
	Headless  bool     `yaml:"headless"`
	Stealth   *bool    `yaml:"stealth"`
	ExtraArgs []string `yaml:"extra_args"`
	Trace     bool     `yaml:"trace"`
}

// StealthEnabled reports whether tabs are opened through go-rod/stealth.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// NavigationConfig controls the initial page load.
type NavigationConfig struct {
	Timeout     time.Duration   `yaml:"timeout"`
	MaxAttempts int             `yaml:"max_attempts"`
	Backoff     []time.Duration `yaml:"backoff"`
}

// PickerConfig maps picker commands to keys (KeyboardEvent.key values).
type PickerConfig struct {
	ToggleKey      string        `yaml:"toggle_key"`
	UndoKey        string        `yaml:"undo_key"`
	FinishKey      string        `yaml:"finish_key"`
	CancelKey      string        `yaml:"cancel_key"`
	BypassModifier string        `yaml:"bypass_modifier"` // ctrl | alt | shift | meta
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// CaptureConfig controls the export pipeline.
type CaptureConfig struct {
	OutputRoot       string        `yaml:"output_root"`
	LocateTimeout    time.Duration `yaml:"locate_timeout"`
	TextTimeout      time.Duration `yaml:"text_timeout"`
	InnerTextMax     int           `yaml:"inner_text_max"`
	MaxRedirects     int           `yaml:"max_redirects"`
	MaxDownloadBytes int64         `yaml:"max_download_bytes"`
	Markdown         *bool         `yaml:"markdown"`
	OpenFolder       *bool         `yaml:"open_folder"`
}

// MarkdownEnabled reports whether element Markdown artifacts are written.
func (c CaptureConfig) MarkdownEnabled() bool { return c.Markdown == nil || *c.Markdown }

// OpenFolderEnabled reports whether the output folder is opened after export.
func (c CaptureConfig) OpenFolderEnabled() bool { return c.OpenFolder == nil || *c.OpenFolder }

// ProfilesConfig selects the profile storage backend.
type ProfilesConfig struct {
	Backend string `yaml:"backend"` // file | sqlite
	Dir     string `yaml:"dir"`
	DB      string `yaml:"db"`
	Remote  string `yaml:"remote"` // base URL of a `domcapture serve` bridge
}

// ServeConfig controls `domcapture serve`.
type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Browser.ExtraArgs) == 0 {
		c.Browser.ExtraArgs = []string{"--disable-blink-features=AutomationControlled"}
	}
	if c.Navigation.Timeout <= 0 {
		c.Navigation.Timeout = 60 * time.Second
	}
	if c.Navigation.MaxAttempts <= 0 {
		c.Navigation.MaxAttempts = 6
	}
	if len(c.Navigation.Backoff) == 0 {
		c.Navigation.Backoff = []time.Duration{
			250 * time.Millisecond,
			600 * time.Millisecond,
			1200 * time.Millisecond,
			2000 * time.Millisecond,
			3000 * time.Millisecond,
			4500 * time.Millisecond,
		}
	}
	if c.Picker.ToggleKey == "" {
		c.Picker.ToggleKey = "F8"
	}
	if c.Picker.UndoKey == "" {
		c.Picker.UndoKey = "Backspace"
	}
	if c.Picker.FinishKey == "" {
		c.Picker.FinishKey = "F9"
	}
	if c.Picker.CancelKey == "" {
		c.Picker.CancelKey = "Escape"
	}
	if c.Picker.BypassModifier == "" {
		c.Picker.BypassModifier = "ctrl"
	}
	if c.Picker.PollInterval <= 0 {
		c.Picker.PollInterval = 250 * time.Millisecond
	}
	if c.Capture.OutputRoot == "" {
		c.Capture.OutputRoot = "."
	}
	if c.Capture.LocateTimeout <= 0 {
		c.Capture.LocateTimeout = 3500 * time.Millisecond
	}
	if c.Capture.TextTimeout <= 0 {
		c.Capture.TextTimeout = 2 * time.Second
	}
	if c.Capture.InnerTextMax <= 0 {
		c.Capture.InnerTextMax = 4000
	}
	if c.Capture.MaxRedirects <= 0 {
		c.Capture.MaxRedirects = 5
	}
	if c.Capture.MaxDownloadBytes <= 0 {
		c.Capture.MaxDownloadBytes = 256 << 20
	}
	if c.Profiles.Backend == "" {
		c.Profiles.Backend = "file"
	}
	if c.Profiles.Dir == "" {
		c.Profiles.Dir = "profiles"
	}
	if c.Profiles.DB == "" {
		c.Profiles.DB = "profiles.db"
	}
	if c.Serve.Addr == "" {
		c.Serve.Addr = "127.0.0.1:8765"
	}
}
