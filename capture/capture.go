// Package capture re-resolves picked selections on a live page and exports
// their artifacts into a capture directory:
//
//	capture_YYYYMMDD_HHMMSS/
//	  element_screenshots/el_NNN.png
//	  element_markdown/el_NNN.md
//	  media/media_NNN[_k].<ext>
//	  page_full.png
//	  page.html
//	  manifest.json
//	  capture_viewer.html
//
// Failures are contained per download and per selection; only filesystem
// errors on the capture directory and a closed page abort an export.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/domcapture/internal/idgen"
	"github.com/hazyhaar/domcapture/selection"
)

var (
	// ErrMissingSelector is recorded for selections with a blank selector.
	ErrMissingSelector = errors.New("missing selector")
	// ErrPageClosed aborts an export: the page can no longer be driven.
	ErrPageClosed = errors.New("capture: page closed")
)

// Page is the live page an export runs against.
type Page interface {
	// URL returns the current page URL.
	URL(ctx context.Context) string
	// Locate waits up to timeout for the first element matching selector.
	Locate(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// HTML returns the serialized DOM.
	HTML(ctx context.Context) (string, error)
}

// Element is a located element.
type Element interface {
	Box(ctx context.Context) (*selection.Box, error)
	Text(ctx context.Context, timeout time.Duration) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// MediaURL probes the element and its descendants for an img, video or
	// source URL. It returns "" when there is none.
	MediaURL(ctx context.Context) (string, error)
}

// Config controls an Exporter.
type Config struct {
	LocateTimeout time.Duration
	TextTimeout   time.Duration
	InnerTextMax  int
	Markdown      bool
	// Client carries the browser session for media downloads.
	Client           *http.Client
	MaxDownloadBytes int64
	Logger           *slog.Logger
	IDGen            idgen.Generator
	Now              func() time.Time
}

func (c *Config) defaults() {
	if c.LocateTimeout <= 0 {
		c.LocateTimeout = 3500 * time.Millisecond
	}
	if c.TextTimeout <= 0 {
		c.TextTimeout = 2 * time.Second
	}
	if c.InnerTextMax <= 0 {
		c.InnerTextMax = 4000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.IDGen == nil {
		c.IDGen = idgen.Default
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Exporter runs the capture pipeline.
type Exporter struct {
	cfg Config
	dl  *Downloader
	md  *markdown
}

// New creates an Exporter.
func New(cfg Config) *Exporter {
	cfg.defaults()
	e := &Exporter{
		cfg: cfg,
		dl:  &Downloader{Client: cfg.Client, MaxBytes: cfg.MaxDownloadBytes},
	}
	if cfg.Markdown {
		e.md = newMarkdown()
	}
	return e
}

// Request describes one export.
type Request struct {
	Dir          string // already created capture directory
	Label        string
	VideoEnabled bool
	Selections   []selection.Selection
}

// Export captures every selection in order and writes the manifest and the
// viewer into req.Dir.
func (e *Exporter) Export(ctx context.Context, page Page, req Request) (*selection.Manifest, error) {
	log := e.cfg.Logger
	for _, sub := range []string{dirShots, dirMedia, dirMarkdown} {
		if err := os.MkdirAll(filepath.Join(req.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("capture: %w", err)
		}
	}

	sels := req.Selections
	if sels == nil {
		sels = []selection.Selection{}
	}
	results := make([]selection.Result, 0, len(sels))
	for i, sel := range sels {
		r, err := e.captureOne(ctx, page, req.Dir, i+1, sel)
		if err != nil {
			return nil, err
		}
		if r.Error != "" {
			log.WarnContext(ctx, "capture: selection failed", "index", r.Index, "selector", sel.Selector, "error", r.Error)
		}
		results = append(results, r)
	}

	m := &selection.Manifest{
		SessionID:    e.cfg.IDGen(),
		CapturedAt:   e.cfg.Now().Format(time.RFC3339Nano),
		PageURL:      page.URL(ctx),
		Label:        req.Label,
		VideoEnabled: req.VideoEnabled,
		Selections:   sels,
		Results:      results,
	}

	if png, err := page.Screenshot(ctx); err != nil {
		log.DebugContext(ctx, "capture: page screenshot skipped", "error", err)
	} else if err := os.WriteFile(filepath.Join(req.Dir, filePageShot), png, 0o644); err != nil {
		log.DebugContext(ctx, "capture: page screenshot not written", "error", err)
	} else {
		m.PageScreenshot = filePageShot
	}

	if doc, err := page.HTML(ctx); err != nil {
		log.DebugContext(ctx, "capture: page html skipped", "error", err)
	} else if err := os.WriteFile(filepath.Join(req.Dir, filePageHTML), []byte(doc), 0o644); err != nil {
		log.DebugContext(ctx, "capture: page html not written", "error", err)
	} else {
		m.PageHTML = filePageHTML
	}

	if err := WriteManifest(req.Dir, m); err != nil {
		return nil, err
	}
	if err := WriteViewer(req.Dir); err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "capture: exported",
		"dir", req.Dir,
		"selections", len(sels),
		"label", req.Label)
	return m, nil
}

const (
	dirShots      = "element_screenshots"
	dirMedia      = "media"
	dirMarkdown   = "element_markdown"
	filePageShot  = "page_full.png"
	filePageHTML  = "page.html"
	fileManifest  = "manifest.json"
	fileViewer    = "capture_viewer.html"
	notFoundLabel = "not found: "
)

func (e *Exporter) captureOne(ctx context.Context, page Page, dir string, idx int, sel selection.Selection) (selection.Result, error) {
	r := selection.Result{
		Index:       idx,
		ResolvedURL: page.URL(ctx),
		Selector:    sel.Selector,
		Tag:         sel.Tag,
		Kind:        sel.Kind,
		PickedText:  sel.Text,
		Src:         sel.Src,
		Href:        sel.Href,
		OuterHTML:   sel.OuterHTML,
		Downloads:   []selection.Download{},
	}

	if strings.TrimSpace(sel.Selector) == "" {
		r.Error = ErrMissingSelector.Error()
		return r, nil
	}

	el, err := page.Locate(ctx, sel.Selector, e.cfg.LocateTimeout)
	if err != nil {
		if errors.Is(err, ErrPageClosed) || ctx.Err() != nil {
			return r, fmt.Errorf("capture: selection %d: %w", idx, err)
		}
		r.Error = notFoundLabel + err.Error()
		return r, nil
	}

	if box, err := el.Box(ctx); err == nil && box != nil {
		r.BoundingBox = box
	}

	if txt, err := el.Text(ctx, e.cfg.TextTimeout); err != nil {
		r.TextError = err.Error()
	} else {
		r.InnerText = clip(txt, e.cfg.InnerTextMax)
	}

	shotRel := filepath.ToSlash(filepath.Join(dirShots, fmt.Sprintf("el_%03d.png", idx)))
	if png, err := el.Screenshot(ctx); err != nil {
		r.ScreenshotError = err.Error()
	} else if err := os.WriteFile(filepath.Join(dir, shotRel), png, 0o644); err != nil {
		r.ScreenshotError = err.Error()
	} else {
		r.ScreenshotPath = shotRel
	}

	if e.md != nil && strings.TrimSpace(sel.OuterHTML) != "" {
		mdRel := filepath.ToSlash(filepath.Join(dirMarkdown, fmt.Sprintf("el_%03d.md", idx)))
		if text, err := e.md.convert(sel.OuterHTML, r.ResolvedURL); err != nil {
			e.cfg.Logger.DebugContext(ctx, "capture: markdown skipped", "index", idx, "error", err)
		} else if err := os.WriteFile(filepath.Join(dir, mdRel), []byte(text), 0o644); err == nil {
			r.MarkdownPath = mdRel
		}
	}

	candidates := []string{sel.Src, sel.Href}
	if nested, err := el.MediaURL(ctx); err == nil {
		candidates = append(candidates, nested)
	}
	for k, u := range NormalizeDedup(r.ResolvedURL, candidates) {
		r.Downloads = append(r.Downloads, e.download(ctx, dir, idx, k+1, u))
	}
	return r, nil
}

func (e *Exporter) download(ctx context.Context, dir string, idx, k int, u string) selection.Download {
	d := selection.Download{URL: u}
	body, ct, err := e.dl.Fetch(ctx, u)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	rel := filepath.ToSlash(filepath.Join(dirMedia, mediaName(idx, k, Extension(ct, u))))
	if err := os.WriteFile(filepath.Join(dir, rel), body, 0o644); err != nil {
		d.Error = err.Error()
		return d
	}
	d.SavedAs = rel
	return d
}

// clip normalises line endings, trims and caps s at max runes plus "...".
func clip(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r", ""))
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// WriteManifest writes manifest.json, pretty-printed.
func WriteManifest(dir string, m *selection.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileManifest), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("capture: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads manifest.json from a capture directory.
func ReadManifest(dir string) (*selection.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileManifest))
	if err != nil {
		return nil, err
	}
	var m selection.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("capture: decode manifest: %w", err)
	}
	return &m, nil
}
