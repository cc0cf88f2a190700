package fetch

import (
	"context"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

// Router picks a fetcher by URL scheme.
type Router struct {
	fetchers map[string]lazyload.Fetcher
}

var _ lazyload.Fetcher = (*Router)(nil)

func NewRouter() *Router {
	return &Router{fetchers: make(map[string]lazyload.Fetcher)}
}

// Handle registers f for scheme, replacing any earlier registration.
func (r *Router) Handle(scheme string, f lazyload.Fetcher) *Router {
	r.fetchers[strings.ToLower(scheme)] = f
	return r
}

func (r *Router) Fetch(ctx context.Context, rawURL string) (*lazyload.Resource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, loaderrors.New(loaderrors.KindUnsupported, rawURL, "invalid url", err)
	}

	scheme := strings.ToLower(u.Scheme)
	f, ok := r.fetchers[scheme]
	if !ok {
		return nil, loaderrors.Unsupported(rawURL, scheme)
	}
	return f.Fetch(ctx, rawURL)
}

// FileFetcher reads file:// URLs.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, rawURL string) (*lazyload.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, loaderrors.Categorize(err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, loaderrors.New(loaderrors.KindUnsupported, rawURL, "invalid file url", err)
	}

	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	if err != nil {
		kind := loaderrors.KindUnknown
		if os.IsNotExist(err) {
			kind = loaderrors.KindNotFound
		}
		return nil, loaderrors.New(kind, rawURL, "failed to read file", err)
	}

	return Inspect(rawURL, data, mime.TypeByExtension(filepath.Ext(u.Path)))
}

// ProxyURL builds the image-proxy fallback for rawURL.
func ProxyURL(base, rawURL string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "url=" + url.QueryEscape(rawURL)
}

// IsProxied reports whether rawURL already goes through the proxy at base.
func IsProxied(base, rawURL string) bool {
	return base != "" && strings.HasPrefix(rawURL, base)
}
