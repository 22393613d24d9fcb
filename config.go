package domcapture

import (
	"github.com/hazyhaar/domcapture/internal/config"
)

// Config is the top-level domcapture configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// NavigationConfig controls the initial page load.
type NavigationConfig = config.NavigationConfig

// PickerConfig maps picker commands to keys.
type PickerConfig = config.PickerConfig

// CaptureConfig controls the export pipeline.
type CaptureConfig = config.CaptureConfig

// ProfilesConfig selects the profile storage backend.
type ProfilesConfig = config.ProfilesConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
