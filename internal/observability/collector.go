// Package observability holds the explicitly constructed metrics collector.
// It is dependency-injected, never a package-level singleton, so tests and
// multiple instances stay isolated.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates job and cache counters on its own registry. It
// implements jobs.Collector and cache.Stats.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepd_jobs_submitted_total",
			Help: "Total sweep jobs accepted for execution.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepd_jobs_finished_total",
			Help: "Finished sweep jobs by terminal status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sweepd_job_duration_seconds",
			Help:    "Wall-clock duration of finished sweep jobs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepd_cache_hits_total",
			Help: "Metric cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepd_cache_misses_total",
			Help: "Metric cache misses.",
		}),
	}

	registry.MustRegister(
		c.jobsSubmitted, c.jobsFinished, c.jobDuration,
		c.cacheHits, c.cacheMisses,
	)
	return c
}

// JobSubmitted records an accepted job.
func (c *Collector) JobSubmitted() {
	c.jobsSubmitted.Inc()
}

// JobFinished records a terminal transition and the job's duration.
func (c *Collector) JobFinished(status string, duration time.Duration) {
	c.jobsFinished.WithLabelValues(status).Inc()
	c.jobDuration.Observe(duration.Seconds())
}

// CacheHit records a metric cache hit.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss records a metric cache miss.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
