package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/domcapture/capture"
)

// RequestClient returns an HTTP client that shares the browser session:
// every cookie the browser holds, the tab's user agent and the page as
// referer. It follows at most maxRedirects redirects.
func (t *Tab) RequestClient(ctx context.Context, maxRedirects int) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("browser: cookie jar: %w", err)
	}
	cookies, err := t.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: read cookies: %w", wrapClosed(err))
	}
	LoadJar(jar, cookies)

	ua := t.profile.UserAgent
	if ua == "" {
		if res, err := t.Eval(ctx, `() => navigator.userAgent`); err == nil {
			ua = res.Str()
		}
	}

	return &http.Client{
		Jar:           jar,
		Timeout:       2 * time.Minute,
		CheckRedirect: capture.RedirectLimit(maxRedirects),
		Transport: &sessionTransport{
			base:      http.DefaultTransport,
			userAgent: ua,
			referer:   t.URL(ctx),
		},
	}, nil
}

// LoadJar stores browser cookies in jar, keyed by the URL each would be
// sent to.
func LoadJar(jar http.CookieJar, cookies []*proto.NetworkCookie) {
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		scheme := "http"
		if c.Secure {
			scheme = "https"
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if strings.HasPrefix(c.Domain, ".") {
			hc.Domain = host
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		jar.SetCookies(&url.URL{Scheme: scheme, Host: host, Path: path}, []*http.Cookie{hc})
	}
}

type sessionTransport struct {
	base      http.RoundTripper
	userAgent string
	referer   string
}

func (s *sessionTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	if s.userAgent != "" && r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", s.userAgent)
	}
	if s.referer != "" && r.Header.Get("Referer") == "" {
		r.Header.Set("Referer", s.referer)
	}
	return s.base.RoundTrip(r)
}
