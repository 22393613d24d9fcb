// Package browser manages the Chrome session behind a pick session: launch
// or remote connect via Rod, tab setup from a browser profile, and the
// adapters the picker, bridge and capture packages drive.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the DevTools endpoint of an external Chrome instance
	// (ws:// or http://host:port). Empty = launch a local Chrome.
	RemoteURL string

	// Bin is the Chrome binary. Empty = let the launcher find or fetch one.
	Bin string

	// Headless hides the window. A pick session needs an operator, so this
	// is only useful with a remote viewer or for tests.
	Headless bool

	// ExtraArgs are Chromium command-line switches ("--name" or
	// "--name=value"), from config and the browser profile.
	ExtraArgs []string

	// Trace enables Rod's CDP tracing.
	Trace bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance) and returns the
// Rod browser handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Browser returns the current Rod browser handle, or nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close shuts Chrome down. A remote browser is only disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	var err error
	if m.browser != nil {
		if m.lnch != nil {
			err = m.browser.Close()
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return err
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		u, err := launcher.ResolveURL(m.cfg.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve remote %s: %w", m.cfg.RemoteURL, err)
		}
		wsURL = u
		log.InfoContext(ctx, "browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(m.cfg.Headless)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		for _, arg := range m.cfg.ExtraArgs {
			name, values := ParseArg(arg)
			if name == "" {
				continue
			}
			l = l.Set(flags.Flag(name), values...)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.InfoContext(ctx, "browser: launched local chrome",
			"url", wsURL,
			"headless", m.cfg.Headless,
			"args", len(m.cfg.ExtraArgs))
	}

	b := rod.New().ControlURL(wsURL).Trace(m.cfg.Trace)
	if err := b.Connect(); err != nil {
		if m.lnch != nil {
			m.lnch.Cleanup()
			m.lnch = nil
		}
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

// ParseArg splits a Chromium switch into its name and values:
// "--lang=fr,en" → ("lang", ["fr,en"]), "--mute-audio" → ("mute-audio", nil).
func ParseArg(arg string) (string, []string) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	name, value, ok := strings.Cut(arg, "=")
	if !ok {
		return name, nil
	}
	return name, []string{value}
}

// MergeArgs appends extra to base, later switches overriding earlier ones
// with the same name. Order of first appearance is kept.
func MergeArgs(base, extra []string) []string {
	idx := make(map[string]int)
	var out []string
	for _, a := range append(append([]string{}, base...), extra...) {
		name, _ := ParseArg(a)
		if name == "" {
			continue
		}
		if i, ok := idx[name]; ok {
			out[i] = a
			continue
		}
		idx[name] = len(out)
		out = append(out, a)
	}
	return out
}
