package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/domcapture/picker"
	"github.com/hazyhaar/domcapture/profile"
)

// TabConfig controls how a tab is prepared before the first navigation.
type TabConfig struct {
	// Stealth opens the page through go-rod/stealth.
	Stealth bool
	Profile profile.BrowserProfile
	Logger  *slog.Logger
}

// Tab wraps the Rod page a pick session runs in.
type Tab struct {
	Page    *rod.Page
	browser *rod.Browser
	profile profile.BrowserProfile
	logger  *slog.Logger

	mu    sync.Mutex
	stops []func() error
}

// OpenTab creates a blank tab and applies the browser profile to it:
// viewport, user agent, locale, timezone and storage-state cookies.
func OpenTab(ctx context.Context, mgr *Manager, cfg TabConfig) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, errors.New("browser: no active browser")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var page *rod.Page
	var err error
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, browser: b, profile: cfg.Profile, logger: cfg.Logger}
	if err := t.apply(ctx); err != nil {
		page.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tab) apply(ctx context.Context) error {
	bp := t.profile
	p := t.Page.Context(ctx)

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             bp.ViewportWidth,
		Height:            bp.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}

	if bp.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      bp.UserAgent,
			AcceptLanguage: bp.Locale,
		}); err != nil {
			return fmt.Errorf("browser: user agent: %w", err)
		}
	}
	if bp.Locale != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: bp.Locale}).Call(p); err != nil {
			t.logger.WarnContext(ctx, "browser: locale override failed", "locale", bp.Locale, "error", err)
		}
	}
	if bp.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: bp.TimezoneID}).Call(p); err != nil {
			return fmt.Errorf("browser: timezone %s: %w", bp.TimezoneID, err)
		}
	}

	st, err := bp.LoadStorageState()
	if err != nil {
		return err
	}
	if st != nil && len(st.Cookies) > 0 {
		if err := t.browser.SetCookies(CookieParams(st.Cookies)); err != nil {
			return fmt.Errorf("browser: restore cookies: %w", err)
		}
		t.logger.InfoContext(ctx, "browser: storage state restored",
			"path", bp.StorageStatePath,
			"cookies", len(st.Cookies))
	}
	return nil
}

// CookieParams converts storage-state cookies into CDP cookie params.
func CookieParams(cookies []profile.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case "lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "none":
			p.SameSite = proto.NetworkCookieSameSiteNone
		}
		out = append(out, p)
	}
	return out
}

// AddInitScript evaluates js in every new document of the tab, before any
// page script runs.
func (t *Tab) AddInitScript(js string) error {
	stop, err := t.Page.EvalOnNewDocument(js)
	if err != nil {
		return fmt.Errorf("browser: init script: %w", err)
	}
	t.addStop(stop)
	return nil
}

// Navigate loads url and waits for DOMContentLoaded, bounded by timeout.
func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := t.Page.Context(navCtx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return wrapClosed(fmt.Errorf("browser: navigate %s: %w", url, err))
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("browser: navigate %s: wait DOMContentLoaded: %w", url, err)
	}
	return nil
}

// URL returns the tab's current URL, or "" when it cannot be read.
func (t *Tab) URL(ctx context.Context) string {
	info, err := t.Page.Context(ctx).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Eval runs a JS function in the page and returns its value. A closed
// target is reported as picker.ErrPageClosed.
func (t *Tab) Eval(ctx context.Context, js string) (gson.JSON, error) {
	res, err := t.Page.Context(ctx).Eval(js)
	if err != nil {
		return gson.JSON{}, wrapClosed(err)
	}
	return res.Value, nil
}

// Expose installs window[name] in every document of the tab. The page calls
// it with one argument and receives fn's string result as a promise. Calls
// are served one at a time.
func (t *Tab) Expose(ctx context.Context, name string, fn func(ctx context.Context, payload string) string) error {
	stop, err := t.Page.Expose(name, func(arg gson.JSON) (interface{}, error) {
		return fn(ctx, payloadString(arg)), nil
	})
	if err != nil {
		return fmt.Errorf("browser: expose %s: %w", name, err)
	}
	t.addStop(stop)
	return nil
}

// payloadString flattens a binding argument: strings pass through, other
// JSON values are re-encoded.
func payloadString(arg gson.JSON) string {
	if arg.Nil() {
		return ""
	}
	if s, ok := arg.Val().(string); ok {
		return s
	}
	return arg.JSON("", "")
}

func (t *Tab) addStop(stop func() error) {
	t.mu.Lock()
	t.stops = append(t.stops, stop)
	t.mu.Unlock()
}

// Close removes bindings and init scripts, then closes the tab.
func (t *Tab) Close() error {
	t.mu.Lock()
	stops := t.stops
	t.stops = nil
	t.mu.Unlock()
	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

// closedMarkers are CDP error fragments meaning the target is gone.
var closedMarkers = []string{
	"target closed",
	"no target with given id",
	"session with given id not found",
	"websocket: close",
	"use of closed network connection",
}

// IsClosed reports whether err means the page or browser went away.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, picker.ErrPageClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func wrapClosed(err error) error {
	if IsClosed(err) && !errors.Is(err, picker.ErrPageClosed) {
		return fmt.Errorf("%w: %w", picker.ErrPageClosed, err)
	}
	return err
}
