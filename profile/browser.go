package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// BrowserProfile holds per-profile launch and tab settings.
type BrowserProfile struct {
	ViewportWidth    int      `yaml:"viewport_width"`
	ViewportHeight   int      `yaml:"viewport_height"`
	UserAgent        string   `yaml:"user_agent"`
	Locale           string   `yaml:"locale"`
	TimezoneID       string   `yaml:"timezone_id"`
	StorageStatePath string   `yaml:"storage_state_path"`
	ExtraArgs        []string `yaml:"extra_args"`
}

// DefaultBrowserText is the template shown for a new browser profile.
const DefaultBrowserText = `viewport_width: 1400
viewport_height: 900
user_agent: ""
locale: ""
timezone_id: ""
storage_state_path: ""
extra_args: []
`

// StealthBrowserText seeds the "stealth" profile.
const StealthBrowserText = `viewport_width: 1366
viewport_height: 768
user_agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
locale: en-US
timezone_id: America/New_York
storage_state_path: ""
extra_args:
  - --disable-blink-features=AutomationControlled
`

// ParseBrowser decodes a browser profile and fills defaults.
func ParseBrowser(data []byte) (BrowserProfile, error) {
	var bp BrowserProfile
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return BrowserProfile{}, fmt.Errorf("profile: parse browser profile: %w", err)
	}
	bp.applyDefaults()
	return bp, nil
}

func (bp *BrowserProfile) applyDefaults() {
	if bp.ViewportWidth <= 0 {
		bp.ViewportWidth = 1400
	}
	if bp.ViewportHeight <= 0 {
		bp.ViewportHeight = 900
	}
	bp.UserAgent = strings.TrimSpace(bp.UserAgent)
	bp.Locale = strings.TrimSpace(bp.Locale)
	bp.TimezoneID = strings.TrimSpace(bp.TimezoneID)
	bp.StorageStatePath = strings.TrimSpace(bp.StorageStatePath)
}

// LoadBrowser reads and parses a browser profile. A missing profile yields
// the defaults.
func LoadBrowser(ctx context.Context, s Store, name string) (BrowserProfile, error) {
	data, err := s.Get(ctx, Browser, name)
	if errors.Is(err, ErrNotFound) {
		bp := BrowserProfile{}
		bp.applyDefaults()
		return bp, nil
	}
	if err != nil {
		return BrowserProfile{}, err
	}
	return ParseBrowser(data)
}

// Cookie is one entry of a storage-state file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// StorageState is the subset of a browser storage-state export that is
// restored into a new session.
type StorageState struct {
	Cookies []Cookie `json:"cookies"`
}

// LoadStorageState reads the storage-state file referenced by the profile.
// It returns nil when the profile has none.
func (bp BrowserProfile) LoadStorageState() (*StorageState, error) {
	if bp.StorageStatePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(bp.StorageStatePath)
	if err != nil {
		return nil, fmt.Errorf("profile: storage state: %w", err)
	}
	var st StorageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("profile: storage state %s: %w", bp.StorageStatePath, err)
	}
	return &st, nil
}
