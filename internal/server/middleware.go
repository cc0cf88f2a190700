package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tracingMiddleware wraps otelgin and tags spans with the image being
// requested.
func tracingMiddleware(serviceName string, tp trace.TracerProvider) gin.HandlerFunc {
	// a typed nil provider would be dereferenced by otelgin
	if sdkTP, ok := tp.(*sdktrace.TracerProvider); ok && sdkTP == nil {
		tp = nil
	}
	var opts []otelgin.Option
	if tp != nil {
		opts = append(opts, otelgin.WithTracerProvider(tp))
	}
	base := otelgin.Middleware(serviceName, opts...)

	return func(c *gin.Context) {
		base(c)

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}
		if id := c.Param("id"); id != "" {
			span.SetAttributes(attribute.String("lazyload.element_id", id))
		}
		for _, ginErr := range c.Errors {
			if ginErr.Err != nil {
				span.RecordError(ginErr.Err)
				span.SetStatus(codes.Error, ginErr.Error())
			}
		}
	}
}

// requestLogger logs each request through zap and records HTTP metrics.
func requestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		method := c.Request.Method

		c.Next()

		// Route templates keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		statusCode := c.Writer.Status()
		latency := time.Since(startTime)

		if m != nil {
			status := strconv.Itoa(statusCode)
			m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(latency.Seconds())
		}

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", statusCode),
			zap.Int("response_size", c.Writer.Size()),
			zap.Duration("latency", latency),
		}

		switch {
		case statusCode >= 500:
			logger.Log.Error("HTTP request", fields...)
		case statusCode >= 400:
			logger.Log.Warn("HTTP request", fields...)
		default:
			logger.Log.Debug("HTTP request", fields...)
		}
	}
}
