package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domcapture/capture"
	"github.com/hazyhaar/domcapture/selection"
)

// mediaProbeJS finds the media URL of an element or its descendants:
// an img (currentSrc, src), else a video (currentSrc, src, first source),
// else any nested source.
const mediaProbeJS = `function () {
	const el = this;
	const img = el.tagName === 'IMG' ? el : el.querySelector('img');
	if (img) return img.currentSrc || img.src || '';
	const video = el.tagName === 'VIDEO' ? el : el.querySelector('video');
	if (video) {
		if (video.currentSrc) return video.currentSrc;
		if (video.src) return video.src;
		const s = video.querySelector('source');
		if (s && s.src) return s.src;
	}
	const src = el.tagName === 'SOURCE' ? el : el.querySelector('source');
	return (src && src.src) || '';
}`

const innerTextJS = `function () { return this.innerText || ''; }`

// CapturePage adapts the tab to capture.Page.
func (t *Tab) CapturePage() capture.Page { return capturePage{t} }

type capturePage struct{ t *Tab }

func (p capturePage) URL(ctx context.Context) string { return p.t.URL(ctx) }

func (p capturePage) Locate(ctx context.Context, sel string, timeout time.Duration) (capture.Element, error) {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	el, err := p.t.Page.Context(lctx).Element(sel)
	if err != nil {
		if IsClosed(err) {
			return nil, fmt.Errorf("%w: %w", capture.ErrPageClosed, err)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("no match for %q within %s", sel, timeout)
		}
		return nil, err
	}
	return captureElement{el: el.Context(ctx)}, nil
}

func (p capturePage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.t.Page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p capturePage) HTML(ctx context.Context) (string, error) {
	return p.t.Page.Context(ctx).HTML()
}

type captureElement struct{ el *rod.Element }

func (e captureElement) Box(ctx context.Context) (*selection.Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return nil, err
	}
	r := shape.Box()
	if r == nil {
		return nil, errors.New("element has no box")
	}
	return &selection.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

func (e captureElement) Text(ctx context.Context, timeout time.Duration) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := e.el.Context(tctx).Eval(innerTextJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e captureElement) Screenshot(ctx context.Context) ([]byte, error) {
	return e.el.Context(ctx).Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (e captureElement) MediaURL(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(mediaProbeJS)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
