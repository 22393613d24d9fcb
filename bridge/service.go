package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/hazyhaar/domcapture/profile"
	"github.com/hazyhaar/domcapture/selection"
	"github.com/hazyhaar/domcapture/selector"
)

// Host is the live session behind the bridge.
type Host interface {
	// CurrentURL is the page URL, "" when unknown.
	CurrentURL(ctx context.Context) string
	// BrowserProfile is the name of the profile the session runs with.
	BrowserProfile() string
	// Install exports sels from the live page under label and returns when
	// the export is written.
	Install(ctx context.Context, sels []selection.Selection, label string) error
}

// ErrNoSession is reported by installFromProfile when there is no live page.
var ErrNoSession = errors.New("no live page session")

// Service implements the bridge operations over a profile store.
type Service struct {
	store  profile.Store
	host   Host
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service. host may be nil when no page is attached
// (serve and mcp modes); installFromProfile then fails.
func NewService(store profile.Store, host Host, opts ...ServiceOption) *Service {
	s := &Service{store: store, host: host, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register binds every operation on r.
func (s *Service) Register(r *Router) {
	r.Register(OpGetConfig, s.getConfig)
	r.Register(OpSaveURLProfiles, s.saveURLProfiles)
	r.Register(OpSaveBrowserProfile, s.saveBrowserProfile)
	r.Register(OpLoadBrowserProfile, s.loadBrowserProfile)
	r.Register(OpLoadSelectionProfile, s.loadSelectionProfile)
	r.Register(OpSaveSelectionProfile, s.saveSelectionProfile)
	r.Register(OpInstallFromProfile, s.installFromProfile)
}

func reply(s string) ([]byte, error) { return []byte(s), nil }

func (s *Service) getConfig(ctx context.Context, _ []byte) ([]byte, error) {
	cfg := ConfigReply{
		BrowserProfiles:       profile.BrowserNames(ctx, s.store),
		CurrentBrowserProfile: "default",
		URLProfiles:           profile.LoadURLs(ctx, s.store),
		SelectionProfiles:     profile.SelectionNames(ctx, s.store),
	}
	if s.host != nil {
		cfg.CurrentURL = s.host.CurrentURL(ctx)
		if bp := s.host.BrowserProfile(); bp != "" {
			cfg.CurrentBrowserProfile = bp
		}
	}
	return json.Marshal(cfg)
}

func (s *Service) saveURLProfiles(ctx context.Context, payload []byte) ([]byte, error) {
	var req URLProfilesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode url profiles: %w", err)
	}
	if !isJSONArray(req.Profiles) {
		return reply("ERR: profiles must be array")
	}
	var list []profile.URLProfile
	if err := json.Unmarshal(req.Profiles, &list); err != nil {
		return nil, fmt.Errorf("decode url profiles: %w", err)
	}
	if err := profile.SaveURLs(ctx, s.store, list); err != nil {
		return nil, err
	}
	return reply(okReply)
}

// checkName applies the shared name rules and returns the failure reply,
// or "" when the name is usable.
func checkName(name string) string {
	if name == "" {
		return "ERR: missing name"
	}
	if profile.ValidateName(name) != nil {
		return "ERR: invalid name (use letters/numbers/._-)"
	}
	return ""
}

func (s *Service) saveBrowserProfile(ctx context.Context, payload []byte) ([]byte, error) {
	var req BrowserProfileRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode browser profile: %w", err)
	}
	name := strings.TrimSpace(req.Name)
	if msg := checkName(name); msg != "" {
		return reply(msg)
	}
	content := strings.ReplaceAll(req.Content, "\r\n", "\n")
	if _, err := profile.ParseBrowser([]byte(content)); err != nil {
		return nil, err
	}
	return s.put(ctx, profile.Browser, name, []byte(content))
}

func (s *Service) loadBrowserProfile(ctx context.Context, payload []byte) ([]byte, error) {
	name := strings.TrimSpace(string(payload))
	if name == "" || profile.ValidateName(name) != nil {
		return reply("")
	}
	data, err := s.store.Get(ctx, profile.Browser, name)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			s.logger.WarnContext(ctx, "bridge: load browser profile", "name", name, "error", err)
		}
		return reply("")
	}
	return data, nil
}

func (s *Service) loadSelectionProfile(ctx context.Context, payload []byte) ([]byte, error) {
	name := strings.TrimSpace(string(payload))
	if profile.ValidateName(name) != nil {
		return reply("{}")
	}
	data, err := s.store.Get(ctx, profile.Selection, name)
	if err != nil || !json.Valid(data) {
		if err != nil && !errors.Is(err, profile.ErrNotFound) {
			s.logger.WarnContext(ctx, "bridge: load selection profile", "name", name, "error", err)
		}
		return reply("{}")
	}
	return data, nil
}

func (s *Service) saveSelectionProfile(ctx context.Context, payload []byte) ([]byte, error) {
	var req SelectionProfileRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode selection profile: %w", err)
	}
	name := strings.TrimSpace(req.Name)
	if msg := checkName(name); msg != "" {
		return reply(msg)
	}
	if !isJSONArray(req.Items) {
		return reply("ERR: items must be array")
	}
	var items []selection.Item
	if err := json.Unmarshal(req.Items, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	s.lint(ctx, name, items)

	// Keep the fields the page sent (createdAt, notes) and store the name
	// the profile is saved under.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode selection profile: %w", err)
	}
	fields["name"], _ = json.Marshal(name)
	doc, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return nil, err
	}
	return s.put(ctx, profile.Selection, name, append(doc, '\n'))
}

// lint logs selectors the page will not be able to query.
func (s *Service) lint(ctx context.Context, name string, items []selection.Item) {
	for i, it := range items {
		if strings.TrimSpace(it.Selector) == "" {
			continue
		}
		if _, err := selector.Compile(it.Selector); err != nil {
			s.logger.WarnContext(ctx, "bridge: selector does not parse",
				"profile", name,
				"item", i+1,
				"selector", it.Selector,
				"error", err)
		}
	}
}

func (s *Service) put(ctx context.Context, kind profile.Kind, name string, content []byte) ([]byte, error) {
	if err := s.store.Put(ctx, kind, name, content); err != nil {
		return nil, err
	}
	names, err := s.store.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return reply("ERR: saved but not visible in list (unexpected)")
	}
	s.logger.InfoContext(ctx, "bridge: profile saved", "kind", kind, "name", name, "bytes", len(content))
	return reply(fmt.Sprintf("OK: saved %s (%d bytes)", displayPath(s.store, kind, name), len(content)))
}

// displayPath names a saved profile for the operator.
func displayPath(st profile.Store, kind profile.Kind, name string) string {
	if rp, ok := st.(interface {
		RelPath(profile.Kind, string) string
	}); ok {
		return rp.RelPath(kind, name)
	}
	return string(kind) + "/" + name
}

func (s *Service) installFromProfile(ctx context.Context, payload []byte) ([]byte, error) {
	var req InstallRequest
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode install request: %w", err)
		}
	}
	sp := strings.TrimSpace(req.SelProfile)
	if sp == "" {
		return reply("ERR: missing selProfile")
	}
	if profile.ValidateName(sp) != nil {
		return reply("ERR: invalid name (use letters/numbers/._-)")
	}
	p, err := profile.LoadSelection(ctx, s.store, sp)
	if errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("selection profile not found: %s", sp)
	}
	if err != nil {
		return nil, err
	}
	sels := p.Selections(req.SelIndex)
	if len(sels) == 0 {
		return reply("ERR: no selections")
	}
	if s.host == nil {
		return nil, ErrNoSession
	}
	label := s.host.BrowserProfile() + " / " + sp
	if err := s.host.Install(ctx, sels, label); err != nil {
		return nil, err
	}
	return reply(okReply)
}
