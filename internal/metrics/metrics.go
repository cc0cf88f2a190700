package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	loaderrors "github.com/zfogg/sidechain/lazyload/internal/errors"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
)

// Metrics holds all Prometheus metrics for the loader and its HTTP surface
type Metrics struct {
	// Loader metrics
	RequestsTotal   *prometheus.CounterVec
	LoadsTotal      *prometheus.CounterVec
	LoadDuration    *prometheus.HistogramVec
	LoadBytes       prometheus.Histogram
	PromotionsTotal prometheus.Counter
	ActiveLoads     prometheus.GaugeFunc
	QueueDepth      prometheus.GaugeFunc

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	mu     sync.RWMutex
	source StatsSource
}

// StatsSource is sampled by the queue gauges at scrape time.
type StatsSource interface {
	Stats() lazyload.Stats
}

var (
	instance *Metrics
	once     sync.Once
)

// New creates and registers all metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lazyload_requests_total",
				Help: "Total number of image load requests by outcome at enqueue time",
			},
			[]string{"result"},
		),
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lazyload_loads_total",
				Help: "Total number of dispatched image loads by status and error kind",
			},
			[]string{"status", "kind"},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lazyload_load_duration_seconds",
				Help:    "Image load latency in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		LoadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lazyload_load_size_bytes",
				Help:    "Size of loaded images in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		PromotionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lazyload_promotions_total",
				Help: "Total number of queued images promoted by the viewport observer",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
	}

	// Gauges read the tracked loader on scrape. Events arrive from several
	// goroutines, so setting them from event snapshots could go backwards.
	m.ActiveLoads = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lazyload_active_loads",
			Help: "Number of image loads currently in flight",
		},
		func() float64 { return float64(m.sample().Active) },
	)
	m.QueueDepth = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lazyload_queue_depth",
			Help: "Number of image loads waiting for a slot",
		},
		func() float64 { return float64(m.sample().Queued) },
	)

	return m
}

// Track points the queue gauges at src, replacing any earlier source.
func (m *Metrics) Track(src StatsSource) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
}

func (m *Metrics) sample() lazyload.Stats {
	m.mu.RLock()
	src := m.source
	m.mu.RUnlock()
	if src == nil {
		return lazyload.Stats{}
	}
	return src.Stats()
}

// Initialize creates the global metrics on the default registry
func Initialize() *Metrics {
	once.Do(func() {
		instance = New(prometheus.DefaultRegisterer)
	})
	return instance
}

// HandleEvent implements lazyload.Listener
func (m *Metrics) HandleEvent(ev lazyload.Event) {
	switch ev.Kind {
	case lazyload.EventEnqueued:
		m.RequestsTotal.WithLabelValues("queued").Inc()
	case lazyload.EventCacheHit:
		m.RequestsTotal.WithLabelValues("cached").Inc()
	case lazyload.EventReplaced:
		m.RequestsTotal.WithLabelValues("replaced").Inc()
	case lazyload.EventCanceled:
		m.RequestsTotal.WithLabelValues("canceled").Inc()
	case lazyload.EventPromoted:
		m.PromotionsTotal.Inc()
	case lazyload.EventLoaded:
		m.LoadsTotal.WithLabelValues("loaded", "").Inc()
		m.LoadDuration.WithLabelValues("loaded").Observe(ev.Duration.Seconds())
		m.LoadBytes.Observe(float64(ev.Bytes))
	case lazyload.EventErrored:
		m.LoadsTotal.WithLabelValues("errored", string(loaderrors.KindOf(ev.Err))).Inc()
		m.LoadDuration.WithLabelValues("errored").Observe(ev.Duration.Seconds())
	}
}
