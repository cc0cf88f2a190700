package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zfogg/sidechain/lazyload/internal/cache"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"github.com/zfogg/sidechain/lazyload/internal/fetch"
	"github.com/zfogg/sidechain/lazyload/internal/history"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/metrics"
	"github.com/zfogg/sidechain/lazyload/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Process modes, reported on traces.
const (
	ModeCLI    = "cli"
	ModeServer = "server"
)

// Runtime holds the collaborators shared by every loader a command creates.
type Runtime struct {
	Config   *config.Config
	Fetcher  *fetch.Router
	Loaded   lazyload.LoadedSet
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	History  *history.Store
	Tracer   *sdktrace.TracerProvider

	closers []func(context.Context) error
}

// Build wires fetchers, the loaded-set, metrics, history and tracing from
// cfg. Optional backends that fail to start are logged and skipped; a
// configured Redis cache that cannot be reached is an error.
func Build(ctx context.Context, cfg *config.Config, mode string) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Metrics:  metrics.Initialize(),
		Gatherer: prometheus.DefaultGatherer,
	}

	tp, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:  "lazyload",
		Mode:         mode,
		Endpoint:     cfg.Telemetry.Endpoint,
		Enabled:      cfg.Telemetry.Enabled,
		SamplingRate: cfg.Telemetry.Sampling,
		Attributes: []attribute.KeyValue{
			attribute.Int("lazyload.max_concurrent", cfg.Loader.MaxConcurrent),
			attribute.String("lazyload.cache_backend", cfg.Cache.Backend),
		},
	})
	if err != nil {
		logger.Log.Warn("Tracing disabled", zap.Error(err))
	} else if tp != nil {
		rt.Tracer = tp
		rt.closers = append(rt.closers, tp.Shutdown)
	}

	rt.Fetcher = newRouter(ctx, cfg)

	switch cfg.Cache.Backend {
	case "", "memory":
		rt.Loaded = lazyload.NewMemorySet()
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		rt.Loaded = cache.NewRedisSet(client, cache.DefaultKey, cfg.Redis.TTL)
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
	default:
		rt.Close(ctx)
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	if cfg.History.Driver != "none" {
		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			logger.Log.Warn("Load history disabled", zap.String("driver", cfg.History.Driver), zap.Error(err))
		} else {
			rt.History = store
			rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		}
	}

	return rt, nil
}

func newRouter(ctx context.Context, cfg *config.Config) *fetch.Router {
	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.UserAgent,
		Token:     cfg.Fetch.Token,
		Retries:   cfg.Fetch.Retries,
	})

	router := fetch.NewRouter().
		Handle("http", httpFetcher).
		Handle("https", httpFetcher).
		Handle("file", fetch.FileFetcher{})

	s3Fetcher, err := fetch.NewS3Fetcher(ctx, cfg.S3.Region)
	if err != nil {
		logger.Log.Warn("s3:// URLs disabled", zap.Error(err))
	} else {
		router.Handle("s3", s3Fetcher)
	}
	return router
}

// LoaderOptions returns the options every loader built from this runtime
// shares. detector may be nil for eager loading.
func (rt *Runtime) LoaderOptions(detector lazyload.IntersectionDetector) []lazyload.Option {
	opts := []lazyload.Option{
		lazyload.WithMaxConcurrent(rt.Config.Loader.MaxConcurrent),
		lazyload.WithDispatchDelay(rt.Config.Loader.DispatchDelay),
		lazyload.WithLoadedSet(rt.Loaded),
		lazyload.WithListener(rt.Metrics),
		lazyload.WithLogger(logger.Log),
	}
	if detector != nil {
		opts = append(opts, lazyload.WithDetector(detector))
	}
	if rt.History != nil {
		opts = append(opts, lazyload.WithListener(rt.History))
	}
	if rt.Tracer != nil {
		opts = append(opts, lazyload.WithTracerProvider(rt.Tracer))
	}
	return opts
}

// TracerProvider returns the configured provider, or a nil interface when
// tracing is off so callers fall back to the global provider.
func (rt *Runtime) TracerProvider() trace.TracerProvider {
	if rt.Tracer == nil {
		return nil
	}
	return rt.Tracer
}

// Close releases backends in reverse order of creation.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
