// Package domcapture runs interactive capture sessions: Chrome opens on a
// start URL, the operator picks elements with the in-page picker, and the
// picked elements are exported into a capture directory (screenshots, text,
// media, Markdown, manifest and a static viewer).
//
// A Session also serves the bridge the picker calls to manage URL, browser
// and selection profiles. Saved selection profiles can be re-applied to the
// live page, each run exporting into its own sibling capture directory.
package domcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/domcapture/bridge"
	"github.com/hazyhaar/domcapture/capture"
	"github.com/hazyhaar/domcapture/internal/browser"
	"github.com/hazyhaar/domcapture/internal/navretry"
	"github.com/hazyhaar/domcapture/picker"
	"github.com/hazyhaar/domcapture/profile"
	"github.com/hazyhaar/domcapture/selection"
)

const (
	// DefaultStartURL is opened when neither the caller nor the saved URL
	// profiles name a start URL.
	DefaultStartURL = "https://example.com"
	// DefaultBrowserProfile is used when no browser profile is named.
	DefaultBrowserProfile = "default"
)

// Options are the per-run settings of a pick session.
type Options struct {
	URL            string
	BrowserProfile string
	Video          bool
	OpenFolder     bool
}

// liveTab is the part of a browser tab a pick session drives.
type liveTab interface {
	picker.Evaluator
	bridge.Exposer
	URL(ctx context.Context) string
	AddInitScript(js string) error
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	CapturePage() capture.Page
	RequestClient(ctx context.Context, maxRedirects int) (*http.Client, error)
}

// Session is one interactive pick session. It implements bridge.Host.
type Session struct {
	cfg    *Config
	store  profile.Store
	logger *slog.Logger
	router *bridge.Router
	now    func() time.Time
	open   func(dir string) error

	remoteURL    string
	remoteClient *http.Client

	mu          sync.Mutex
	tab         liveTab
	profileName string
	video       bool
	openFolder  bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRemoteProfiles forwards the profile operations to the bridge of a
// `domcapture serve` process at baseURL. installFromProfile still runs
// against the local page.
func WithRemoteProfiles(baseURL string, client *http.Client) Option {
	return func(s *Session) {
		s.remoteURL = baseURL
		s.remoteClient = client
	}
}

// New creates a Session over store. cfg nil means DefaultConfig.
func New(cfg *Config, store profile.Store, opts ...Option) *Session {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Session{
		cfg:         cfg,
		store:       store,
		logger:      slog.Default(),
		now:         time.Now,
		open:        openFolder,
		profileName: DefaultBrowserProfile,
	}
	for _, o := range opts {
		o(s)
	}
	s.router = bridge.NewRouter(bridge.WithLogger(s.logger))
	bridge.NewService(store, s, bridge.WithServiceLogger(s.logger)).Register(s.router)
	if s.remoteURL != "" {
		forward := bridge.Remote(s.remoteURL, s.remoteClient)
		for _, op := range bridge.AllOps {
			if op != bridge.OpInstallFromProfile {
				s.router.Register(op, forward(op))
			}
		}
	}
	return s
}

// Router returns the bridge router bound into the page.
func (s *Session) Router() *bridge.Router { return s.router }

// CurrentURL implements bridge.Host.
func (s *Session) CurrentURL(ctx context.Context) string {
	t := s.live()
	if t == nil {
		return ""
	}
	return t.URL(ctx)
}

// BrowserProfile implements bridge.Host.
func (s *Session) BrowserProfile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileName
}

// Install implements bridge.Host: sels are exported from the live page into
// a new capture directory.
func (s *Session) Install(ctx context.Context, sels []selection.Selection, label string) error {
	t := s.live()
	if t == nil {
		return bridge.ErrNoSession
	}
	dir, err := capture.NewOutputDir(s.cfg.Capture.OutputRoot, s.now())
	if err != nil {
		return err
	}
	if _, err := s.export(ctx, t, dir, label, sels); err != nil {
		capture.RemoveIfEmpty(dir)
		return err
	}
	s.reveal(ctx, dir)
	return nil
}

func (s *Session) live() liveTab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab
}

func (s *Session) attach(t liveTab, opts Options) {
	s.mu.Lock()
	s.tab = t
	s.video = opts.Video
	s.openFolder = opts.OpenFolder
	s.mu.Unlock()
}

func (s *Session) detach() {
	s.mu.Lock()
	s.tab = nil
	s.mu.Unlock()
}

// Run launches the browser, opens a tab configured from the browser profile
// and runs the pick session until the operator finishes or cancels, or ctx
// ends. It returns nil for a cancelled or empty session and for a page the
// operator closed.
func (s *Session) Run(ctx context.Context, opts Options) error {
	name := strings.TrimSpace(opts.BrowserProfile)
	if name == "" {
		name = DefaultBrowserProfile
	}
	if err := profile.ValidateName(name); err != nil {
		return fmt.Errorf("domcapture: browser profile %q: %w", name, err)
	}
	opts.BrowserProfile = name
	s.mu.Lock()
	s.profileName = name
	s.mu.Unlock()

	bp, err := profile.LoadBrowser(ctx, s.store, name)
	if err != nil {
		return fmt.Errorf("domcapture: browser profile %s: %w", name, err)
	}
	opts.URL = s.startURL(ctx, opts.URL)

	mgr := browser.NewManager(browser.Config{
		RemoteURL: s.cfg.Browser.Remote,
		Bin:       s.cfg.Browser.Bin,
		Headless:  s.cfg.Browser.Headless,
		ExtraArgs: browser.MergeArgs(s.cfg.Browser.ExtraArgs, bp.ExtraArgs),
		Trace:     s.cfg.Browser.Trace,
		Logger:    s.logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("domcapture: start browser: %w", err)
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, mgr, browser.TabConfig{
		Stealth: s.cfg.Browser.StealthEnabled(),
		Profile: bp,
		Logger:  s.logger,
	})
	if err != nil {
		return fmt.Errorf("domcapture: open tab: %w", err)
	}
	defer tab.Close()

	dir, err := capture.NewOutputDir(s.cfg.Capture.OutputRoot, s.now())
	if err != nil {
		return err
	}

	if opts.Video {
		rec, err := tab.StartScreencast(ctx, filepath.Join(dir, "video"))
		if err != nil {
			s.logger.WarnContext(ctx, "domcapture: video disabled", "error", err)
			opts.Video = false
		} else {
			defer func() {
				frames := rec.Stop()
				s.logger.InfoContext(ctx, "domcapture: video saved", "frames", frames)
			}()
		}
	}

	return s.pick(ctx, tab, dir, opts)
}

// startURL picks the explicit URL, else the first saved URL profile, else
// DefaultStartURL.
func (s *Session) startURL(ctx context.Context, explicit string) string {
	if u := strings.TrimSpace(explicit); u != "" {
		return u
	}
	for _, p := range profile.LoadURLs(ctx, s.store) {
		if u := strings.TrimSpace(p.URL); u != "" {
			return u
		}
	}
	return DefaultStartURL
}

// pick binds the bridge, installs the picker, navigates, waits for the
// operator and exports the result into dir.
func (s *Session) pick(ctx context.Context, t liveTab, dir string, opts Options) error {
	log := s.logger.With("browser_profile", opts.BrowserProfile)

	s.attach(t, opts)
	defer s.detach()

	if err := bridge.Bind(ctx, t, bridge.DefaultPrefix, s.router); err != nil {
		capture.RemoveIfEmpty(dir)
		return fmt.Errorf("domcapture: %w", err)
	}
	keys := s.cfg.Picker
	script := picker.Script(picker.ScriptConfig{
		Keys: picker.Keymap{
			Toggle: keys.ToggleKey,
			Undo:   keys.UndoKey,
			Finish: keys.FinishKey,
			Cancel: keys.CancelKey,
			Bypass: keys.BypassModifier,
		},
		BridgePrefix:          bridge.DefaultPrefix,
		DefaultBrowserProfile: opts.BrowserProfile,
	})
	if err := t.AddInitScript(script); err != nil {
		capture.RemoveIfEmpty(dir)
		return fmt.Errorf("domcapture: %w", err)
	}

	nav := s.cfg.Navigation
	sup := navretry.New(
		navretry.WithMaxAttempts(nav.MaxAttempts),
		navretry.WithBackoff(nav.Backoff),
		navretry.WithLogger(log),
	)
	err := sup.Run(ctx, func(ctx context.Context, attempt int) error {
		log.InfoContext(ctx, "domcapture: navigating", "url", opts.URL, "attempt", attempt)
		return t.Navigate(ctx, opts.URL, nav.Timeout)
	})
	if err != nil {
		capture.RemoveIfEmpty(dir)
		if ctx.Err() != nil {
			log.InfoContext(ctx, "domcapture: canceled before the page loaded")
			return nil
		}
		return fmt.Errorf("domcapture: %w", err)
	}

	ctl := picker.NewController(t,
		picker.WithPollInterval(keys.PollInterval),
		picker.WithLogger(log),
	)
	if err := ctl.Install(ctx); err != nil {
		capture.RemoveIfEmpty(dir)
		return fmt.Errorf("domcapture: %w", err)
	}
	log.InfoContext(ctx, "domcapture: pick mode ready",
		"url", opts.URL,
		"toggle", keys.ToggleKey,
		"finish", keys.FinishKey,
		"cancel", keys.CancelKey)

	out, err := ctl.Wait(ctx)
	switch {
	case errors.Is(err, picker.ErrPageClosed):
		log.InfoContext(ctx, "domcapture: page closed")
		capture.RemoveIfEmpty(dir)
		return nil
	case errors.Is(err, context.Canceled), out.State == picker.Canceled:
		log.InfoContext(ctx, "domcapture: canceled")
		capture.RemoveIfEmpty(dir)
		return nil
	case err != nil:
		capture.RemoveIfEmpty(dir)
		return fmt.Errorf("domcapture: %w", err)
	}
	if len(out.Selections) == 0 {
		log.InfoContext(ctx, "domcapture: no selections")
		capture.RemoveIfEmpty(dir)
		return nil
	}

	if _, err := s.export(ctx, t, dir, opts.BrowserProfile, out.Selections); err != nil {
		return fmt.Errorf("domcapture: %w", err)
	}
	s.reveal(ctx, dir)
	return nil
}

// export builds the session HTTP client and runs the capture pipeline.
func (s *Session) export(ctx context.Context, t liveTab, dir, label string, sels []selection.Selection) (*selection.Manifest, error) {
	c := s.cfg.Capture
	client, err := t.RequestClient(ctx, c.MaxRedirects)
	if err != nil {
		s.logger.WarnContext(ctx, "domcapture: downloads without browser session", "error", err)
		client = &http.Client{CheckRedirect: capture.RedirectLimit(c.MaxRedirects), Timeout: 2 * time.Minute}
	}

	s.mu.Lock()
	video := s.video
	s.mu.Unlock()

	exp := capture.New(capture.Config{
		LocateTimeout:    c.LocateTimeout,
		TextTimeout:      c.TextTimeout,
		InnerTextMax:     c.InnerTextMax,
		Markdown:         c.MarkdownEnabled(),
		Client:           client,
		MaxDownloadBytes: c.MaxDownloadBytes,
		Logger:           s.logger,
		Now:              s.now,
	})
	return exp.Export(ctx, t.CapturePage(), capture.Request{
		Dir:          dir,
		Label:        label,
		VideoEnabled: video,
		Selections:   sels,
	})
}

// reveal opens dir in the platform file browser, best effort.
func (s *Session) reveal(ctx context.Context, dir string) {
	s.mu.Lock()
	enabled := s.openFolder
	s.mu.Unlock()
	if !enabled || !s.cfg.Capture.OpenFolderEnabled() {
		return
	}
	if err := s.open(dir); err != nil {
		s.logger.DebugContext(ctx, "domcapture: open folder", "dir", dir, "error", err)
	}
}

func openFolder(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", abs)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", abs)
	default:
		cmd = exec.Command("xdg-open", abs)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
