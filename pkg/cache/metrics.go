package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("nornicpgq.cache")
	meter  = otel.Meter("nornicpgq.cache")
)

// Prometheus counters, labelled by cache name.
var (
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicpgq_graph_cache_requests_total",
		Help: "Graph cache lookups by result (hit, miss)",
	}, []string{"cache", "result"})

	cacheBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicpgq_graph_cache_builds_total",
		Help: "Graph cache builds by outcome (stored, discarded, error)",
	}, []string{"cache", "outcome"})

	cacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicpgq_graph_cache_invalidated_entries_total",
		Help: "Entries dropped by Invalidate and InvalidateAll",
	}, []string{"cache"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nornicpgq_graph_cache_evictions_total",
		Help: "Entries evicted by the LRU bound",
	}, []string{"cache"})

	cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nornicpgq_graph_cache_entries",
		Help: "Entries currently cached",
	}, []string{"cache"})
)

var (
	buildLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the otel instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		buildLatency, metricsErr = meter.Float64Histogram(
			"graph_cache_build_duration_seconds",
			metric.WithDescription("Duration of graph cache builds"),
			metric.WithUnit("s"),
		)
	})
	return metricsErr
}

func recordBuild(ctx context.Context, cacheName string, d time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	buildLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("cache", cacheName),
		attribute.Bool("success", success),
	))
}
