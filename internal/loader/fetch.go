package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"
)

// MaxBundleSize caps how many bytes a fetcher will read.
const MaxBundleSize = 8 << 20

// Fetcher retrieves the bytes behind a url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches http and https urls.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch issues a GET and requires a 2xx response.
func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return readLimited(resp.Body)
}

// FileFetcher reads file:// urls and bare paths.
type FileFetcher struct{}

// Fetch reads the file named by url.
func (FileFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f, err := os.Open(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return readLimited(f)
}

// EmbeddedFetcher serves "<scheme>:<name>" urls from FS as <name>.star.
type EmbeddedFetcher struct {
	FS fs.FS
}

// Fetch reads the named bundle.
func (f EmbeddedFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.FS == nil {
		return nil, fmt.Errorf("no embedded bundles available for %s", url)
	}
	_, name, ok := strings.Cut(url, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid bundle url %q", url)
	}
	if !strings.HasSuffix(name, ".star") {
		name += ".star"
	}
	data, err := fs.ReadFile(f.FS, name)
	if err != nil {
		return nil, fmt.Errorf("bundle %q: %w", url, err)
	}
	return data, nil
}

// MultiFetcher dispatches on the url scheme. Urls without a scheme use "file".
type MultiFetcher map[string]Fetcher

// Fetch delegates to the fetcher registered for the url's scheme.
func (m MultiFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	scheme := Scheme(url)
	f, ok := m[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported url scheme %q", scheme)
	}
	return f.Fetch(ctx, url)
}

// Scheme returns the lower-cased scheme of url, or "file" when there is none.
func Scheme(url string) string {
	i := strings.Index(url, ":")
	if i <= 1 { // none, or a drive letter
		return "file"
	}
	scheme := strings.ToLower(url[:i])
	for _, r := range scheme {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return "file"
		}
	}
	return scheme
}

// DefaultFetcher handles http, https, file and builtin urls.
// builtin:<name> is served from bundles.
func DefaultFetcher(bundles fs.FS) MultiFetcher {
	web := HTTPFetcher{}
	return MultiFetcher{
		"http":    web,
		"https":   web,
		"file":    FileFetcher{},
		"builtin": EmbeddedFetcher{FS: bundles},
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBundleSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBundleSize {
		return nil, fmt.Errorf("bundle exceeds %d bytes", MaxBundleSize)
	}
	return data, nil
}
