package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/telemetry"
	"go.uber.org/zap"
)

const (
	DefaultUserAgent = "Sidechain-LazyLoad/0.1.0"
	DefaultTimeout   = 30 * time.Second

	acceptImages = "image/avif,image/webp,image/png,image/jpeg,image/gif,image/svg+xml,image/*;q=0.8"
)

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	Token     string
	// Retries is the number of extra attempts after a network error, 429 or
	// 5xx. Zero leaves retry policy to the caller.
	Retries   int
	Transport http.RoundTripper
}

// HTTPFetcher downloads images over HTTP(S).
type HTTPFetcher struct {
	client *resty.Client
}

var _ lazyload.Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	client := resty.New()
	client.SetTransport(telemetry.NewTransport(cfg.Transport))
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", acceptImages)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	if cfg.Retries > 0 {
		client.SetRetryCount(cfg.Retries)
		client.SetRetryWaitTime(200 * time.Millisecond)
		client.SetRetryMaxWaitTime(2 * time.Second)
		client.AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})
	}

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.Log.Debug("HTTP Request", zap.String("method", req.Method), logger.WithURL(req.URL))
		return nil
	})
	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.Log.Debug("HTTP Response",
			logger.WithURL(resp.Request.URL),
			logger.WithStatus(resp.StatusCode()),
			logger.WithDuration(resp.Time()),
		)
		return nil
	})

	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*lazyload.Resource, error) {
	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		loadErr := loaderrors.Categorize(err)
		loadErr.URL = url
		return nil, loadErr
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, loaderrors.HTTPStatus(url, resp.StatusCode())
	}

	return Inspect(url, resp.Body(), resp.Header().Get("Content-Type"))
}
