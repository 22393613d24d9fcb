package capture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hazyhaar/domcapture/internal/safeio"
)

// NormalizeDedup trims urls, drops blanks, resolves each against base and
// removes duplicates while keeping first-seen order. A URL that cannot be
// resolved is kept as trimmed.
func NormalizeDedup(base string, urls []string) []string {
	baseURL, baseErr := url.Parse(strings.TrimSpace(base))
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if baseErr == nil {
			if ref, err := url.Parse(u); err == nil {
				u = baseURL.ResolveReference(ref).String()
			}
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

var contentTypeExt = []struct {
	marker, ext string
}{
	{"image/png", ".png"},
	{"image/jpeg", ".jpg"},
	{"image/jpg", ".jpg"},
	{"image/webp", ".webp"},
	{"image/gif", ".gif"},
	{"video/mp4", ".mp4"},
	{"video/webm", ".webm"},
	{"application/pdf", ".pdf"},
}

// Extension picks a file extension for a downloaded body: from the content
// type when recognised, else from the URL path (at most 6 characters
// including the dot, lowercased), else ".bin".
func Extension(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	for _, m := range contentTypeExt {
		if strings.Contains(ct, m.marker) {
			return m.ext
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); len(ext) > 1 && len(ext) <= 6 {
			return strings.ToLower(ext)
		}
	}
	return ".bin"
}

// Downloader fetches media through an HTTP client that carries the browser
// session (cookies, user agent).
type Downloader struct {
	Client   *http.Client
	MaxBytes int64
}

// errEmptyBody marks a 2xx response without content.
var errEmptyBody = errors.New("empty body")

// Fetch downloads rawURL and returns the body and its content type.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	max := d.MaxBytes
	if max <= 0 {
		max = 256 << 20
	}
	body, err := safeio.LimitedReadAll(resp.Body, max)
	if err != nil {
		return nil, "", err
	}
	if len(body) == 0 {
		return nil, "", errEmptyBody
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// RedirectLimit returns a CheckRedirect policy allowing at most n redirects.
func RedirectLimit(n int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > n {
			return fmt.Errorf("stopped after %d redirects", n)
		}
		return nil
	}
}

// mediaName returns media_NNN<ext> for the first file of a selection and
// media_NNN_k<ext> for the k-th (k >= 2).
func mediaName(index, k int, ext string) string {
	if k <= 1 {
		return fmt.Sprintf("media_%03d%s", index, ext)
	}
	return fmt.Sprintf("media_%03d_%d%s", index, k, ext)
}
