package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domcapture/selection"
)

// URLProfile is a saved start URL.
type URLProfile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// URLProfiles is the persisted form of every saved URL.
type URLProfiles struct {
	Profiles []URLProfile `json:"profiles"`
}

// LoadURLs returns the saved URL profiles. Missing or malformed data yields
// an empty list.
func LoadURLs(ctx context.Context, s Store) []URLProfile {
	data, err := s.Get(ctx, URLs, URLProfilesName)
	if err != nil {
		return []URLProfile{}
	}
	var doc URLProfiles
	if err := json.Unmarshal(data, &doc); err != nil || doc.Profiles == nil {
		return []URLProfile{}
	}
	return doc.Profiles
}

// SaveURLs replaces the saved URL profiles.
func SaveURLs(ctx context.Context, s Store, profiles []URLProfile) error {
	if profiles == nil {
		profiles = []URLProfile{}
	}
	data, err := json.MarshalIndent(URLProfiles{Profiles: profiles}, "", "  ")
	if err != nil {
		return err
	}
	return s.Put(ctx, URLs, URLProfilesName, append(data, '\n'))
}

// BrowserNames lists browser profiles, falling back to ["default"].
func BrowserNames(ctx context.Context, s Store) []string {
	names, err := s.List(ctx, Browser)
	if err != nil || len(names) == 0 {
		return []string{"default"}
	}
	return names
}

// SelectionNames lists selection profiles, falling back to ["sample"].
func SelectionNames(ctx context.Context, s Store) []string {
	names, err := s.List(ctx, Selection)
	if err != nil || len(names) == 0 {
		return []string{"sample"}
	}
	return names
}

// LoadSelection reads a selection profile. It fails with ErrNotFound when
// absent and with a parse error when items is not an array.
func LoadSelection(ctx context.Context, s Store, name string) (selection.Profile, error) {
	data, err := s.Get(ctx, Selection, name)
	if err != nil {
		return selection.Profile{}, err
	}
	var raw struct {
		Name      string          `json:"name"`
		CreatedAt string          `json:"createdAt"`
		Notes     string          `json:"notes"`
		Items     json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return selection.Profile{}, fmt.Errorf("profile: selection %s: %w", name, err)
	}
	p := selection.Profile{Name: raw.Name, CreatedAt: raw.CreatedAt, Notes: raw.Notes}
	if err := json.Unmarshal(raw.Items, &p.Items); err != nil || p.Items == nil {
		return selection.Profile{}, fmt.Errorf("profile: selection %s: missing items[]", name)
	}
	if p.Name == "" {
		p.Name = name
	}
	return p, nil
}

// Seed writes the starter profiles that do not exist yet.
func Seed(ctx context.Context, s Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	seeds := []struct {
		kind    Kind
		name    string
		content string
	}{
		{Browser, "default", DefaultBrowserText},
		{Browser, "stealth", StealthBrowserText},
		{URLs, URLProfilesName, `{
  "profiles": [
    {"name": "Example", "url": "https://example.com"}
  ]
}
`},
		{Selection, "sample", `{
  "name": "sample",
  "createdAt": "",
  "notes": "Replace selectors with your own.",
  "items": [
    {"selector": "h1", "tag": "h1", "kind": "element", "text": ""}
  ]
}
`},
	}
	for _, sd := range seeds {
		_, err := s.Get(ctx, sd.kind, sd.name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.Put(ctx, sd.kind, sd.name, []byte(sd.content)); err != nil {
			return fmt.Errorf("profile: seed %s/%s: %w", sd.kind, sd.name, err)
		}
		logger.Debug("profile: seeded", "kind", sd.kind, "name", sd.name)
	}
	return nil
}
