package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus observability primitives for the habit service.
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	habitToggles    *prometheus.CounterVec
	toggleConflicts prometheus.Counter
}

// NewMetrics registers and returns Prometheus metrics for telemetry.
func NewMetrics() *Metrics {
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_http_requests_total",
		Help: "Counts HTTP requests by method, route, and status.",
	}, []string{"method", "route", "status"})

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stride_http_duration_seconds",
		Help:    "HTTP request latency per method/route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	habitToggles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stride_habit_toggles_total",
		Help: "Habit completion toggles by direction (on/off).",
	}, []string{"direction"})

	toggleConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stride_habit_toggle_conflicts_total",
		Help: "Toggle inserts that lost the same-day uniqueness race.",
	})

	prometheus.MustRegister(
		httpRequests,
		httpDuration,
		habitToggles,
		toggleConflicts,
	)

	return &Metrics{
		httpRequests:    httpRequests,
		httpDuration:    httpDuration,
		habitToggles:    habitToggles,
		toggleConflicts: toggleConflicts,
	}
}

// ObserveToggle records a completed toggle in the given direction.
func (m *Metrics) ObserveToggle(completed bool) {
	if m == nil {
		return
	}
	direction := "off"
	if completed {
		direction = "on"
	}
	m.habitToggles.WithLabelValues(direction).Inc()
}

// ObserveToggleConflict records a toggle insert beaten by a concurrent one.
func (m *Metrics) ObserveToggleConflict() {
	if m == nil {
		return
	}
	m.toggleConflicts.Inc()
}

// GinMiddleware records request counts and latencies per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
