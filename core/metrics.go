package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpDuration *prometheus.HistogramVec
	httpTotal    *prometheus.CounterVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheErrors  *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
	importJobs   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status_code"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		}, []string{"cache_type"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		}, []string{"cache_type"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Cache backend failures by operation",
		}, []string{"op"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Total number of authentication attempts",
		}, []string{"status"}),
		importJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_jobs_total",
			Help: "Benchmark import jobs by final status",
		}, []string{"status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration, m.httpTotal,
		m.cacheHits, m.cacheMisses, m.cacheErrors,
		m.authAttempts, m.importJobs,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) CacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) AuthAttempt(success bool) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.authAttempts.WithLabelValues(status).Inc()
}

func (m *Metrics) ImportJob(status string) {
	if m == nil {
		return
	}
	m.importJobs.WithLabelValues(status).Inc()
}

// RequestMetrics records duration and count per matched route.
func (m *Metrics) RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpTotal.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}
