package captcha

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

// DownloadTimeout bounds a single challenge image fetch.
const DownloadTimeout = 10 * time.Second

var styleURLPattern = regexp.MustCompile(`url\("?(.+?)"?\)`)

// ResolveImageURL finds the image behind an element: its src attribute when
// set, otherwise the url(...) in its inline background-image style. Relative
// URLs are resolved against the page's document URL.
func ResolveImageURL(ctx context.Context, page Page, sel string) (string, error) {
	src, ok, err := page.Attribute(ctx, sel, "src")
	if err != nil {
		return "", newError(KindSourceNotFound, fmt.Sprintf("failed to read src of %s", sel), err)
	}
	if ok && strings.TrimSpace(src) != "" {
		return absoluteURL(ctx, page, normalizeURL(src))
	}

	style, _, err := page.Attribute(ctx, sel, "style")
	if err != nil {
		return "", newError(KindSourceNotFound, fmt.Sprintf("failed to read style of %s", sel), err)
	}
	m := styleURLPattern.FindStringSubmatch(style)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", newError(KindSourceNotFound, fmt.Sprintf("no image url on %s", sel), nil)
	}
	return absoluteURL(ctx, page, normalizeURL(m[1]))
}

// absoluteURL resolves ref against the document URL of page when ref has no
// scheme.
func absoluteURL(ctx context.Context, page Page, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", newError(KindSourceNotFound, fmt.Sprintf("invalid image url %q", ref), err)
	}
	if u.IsAbs() {
		return ref, nil
	}

	doc, ok := page.(DocumentPage)
	if !ok {
		return "", newError(KindSourceNotFound, fmt.Sprintf("relative image url %q without a document url", ref), nil)
	}
	base, err := doc.BaseURL(ctx)
	if err != nil {
		return "", newError(KindSourceNotFound, "failed to read document url", err)
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", newError(KindSourceNotFound, fmt.Sprintf("document url %q is not absolute", base), err)
	}
	return b.ResolveReference(u).String(), nil
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.Trim(u, `'`)
	u = strings.ReplaceAll(u, "&amp;", "&")
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

// Fetcher downloads challenge images to local files
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher using the standard download timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: DownloadTimeout}}
}

// NewFetcherWithClient creates a fetcher around an existing client.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Download fetches url and writes the body to path, replacing any previous
// content. data: URLs are decoded without a request.
func (f *Fetcher) Download(ctx context.Context, url, path string) error {
	var data []byte
	var err error
	if strings.HasPrefix(url, "data:") {
		data, err = decodeDataURL(url)
	} else {
		data, err = f.get(ctx, url)
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return newError(KindDownloadFailed, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

// FetchElementImage resolves the element's image url and downloads it.
func (f *Fetcher) FetchElementImage(ctx context.Context, page Page, sel, path string) error {
	url, err := ResolveImageURL(ctx, page, sel)
	if err != nil {
		return err
	}
	return f.Download(ctx, url, path)
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newError(KindDownloadFailed, "failed to build image request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newError(KindDownloadFailed, "image request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(KindDownloadFailed, fmt.Sprintf("image request returned status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindDownloadFailed, "failed to read image body", err)
	}
	return data, nil
}

func decodeDataURL(u string) ([]byte, error) {
	comma := strings.IndexByte(u, ',')
	if comma < 0 {
		return nil, newError(KindDownloadFailed, "malformed data url", nil)
	}
	meta, payload := u[len("data:"):comma], u[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return []byte(payload), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, newError(KindDownloadFailed, "failed to decode data url", err)
	}
	return data, nil
}
