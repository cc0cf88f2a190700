// Package server exposes a loader and its viewport over HTTP so a page
// driver (or a person with curl) can place images and scroll.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	serviceName     = "lazyload"
	shutdownTimeout = 30 * time.Second
)

type Config struct {
	Loader   *lazyload.Loader
	Viewport *lazyload.Viewport
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer        prometheus.Gatherer
	TracerProvider  trace.TracerProvider
	DefaultPriority lazyload.Priority
}

// Server owns the page: the elements placed through the API and the newest
// ticket for each.
type Server struct {
	loader   *lazyload.Loader
	viewport *lazyload.Viewport
	priority lazyload.Priority
	engine   *gin.Engine

	mu      sync.RWMutex
	images  map[string]*lazyload.Image
	tickets map[string]*lazyload.Ticket
}

func New(cfg Config) *Server {
	s := &Server{
		loader:   cfg.Loader,
		viewport: cfg.Viewport,
		priority: cfg.DefaultPriority,
		images:   make(map[string]*lazyload.Image),
		tickets:  make(map[string]*lazyload.Ticket),
	}

	if cfg.Metrics != nil && cfg.Loader != nil {
		cfg.Metrics.Track(cfg.Loader)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracingMiddleware(serviceName, cfg.TracerProvider))
	r.Use(requestLogger(cfg.Metrics))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	{
		v1.POST("/images", s.enqueueImage)
		v1.GET("/images/:id", s.getImage)
		v1.POST("/viewport", s.updateViewport)
		v1.GET("/stats", s.stats)
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Lazy load service starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Log.Info("Shutting down lazy load service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
