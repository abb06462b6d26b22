// metrics.go: prometheus instrumentation on a private registry.
package api

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/tasks"
	"github.com/pictora/pictora-go/internal/vision"
)

// Metrics holds the prometheus collectors for the API surface.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	searchHits    prometheus.Counter
	searchMisses  prometheus.Counter
	tasksStarted  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a private
// registry, together with gauges sampling the store, the vision fleet and
// the task tracker.
func NewMetrics(ds datastore.Interface, registry *vision.Registry, tracker *tasks.Tracker) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pictora_http_requests_total",
			Help: "HTTP requests by method, path and status code.",
		}, []string{"method", "path", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pictora_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		searchHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pictora_search_cache_hits_total",
			Help: "Search responses served from the cache.",
		}),
		searchMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pictora_search_cache_misses_total",
			Help: "Search requests that went to the source APIs.",
		}),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pictora_tasks_started_total",
			Help: "Background tasks started by type.",
		}, []string{"type"}),
	}

	m.Registry.MustRegister(m.httpRequests, m.httpDuration, m.searchHits, m.searchMisses, m.tasksStarted)

	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pictora_images_total",
		Help: "Image records in the store.",
	}, func() float64 {
		count, err := ds.CountRecords()
		if err != nil {
			return 0
		}
		return float64(count)
	}))

	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pictora_vision_workers_loaded",
		Help: "Vision workers that confirmed model load.",
	}, func() float64 {
		return float64(registry.LoadedCount())
	}))

	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pictora_tasks_running",
		Help: "Background tasks currently running.",
	}, func() float64 {
		running, _, _ := tracker.Counts()
		return float64(running)
	}))

	m.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pictora_tasks_failed",
		Help: "Background tasks that ended in failure.",
	}, func() float64 {
		_, _, failed := tracker.Counts()
		return float64(failed)
	}))

	return m
}

// Middleware counts and times HTTP requests by route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			m.httpRequests.WithLabelValues(
				c.Request().Method, path, strconv.Itoa(c.Response().Status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, path).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// TaskStarted counts one background task launch.
func (m *Metrics) TaskStarted(taskType string) {
	m.tasksStarted.WithLabelValues(taskType).Inc()
}
