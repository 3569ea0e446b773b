package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Change detection metrics
var (
	FileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_file_events_total",
			Help: "File lifecycle events observed by the background watcher",
		},
		[]string{"type"},
	)

	WatchedFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "filedrop_watched_files",
			Help: "Number of regular files in the latest watcher snapshot",
		},
	)

	SnapshotDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedrop_snapshot_duration_seconds",
			Help:    "Time to capture and diff one directory snapshot",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"loop"},
	)

	NotifierSessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filedrop_notifier_sessions_active",
			Help: "Number of connected live-update clients",
		},
		[]string{"transport"},
	)

	NotifierPulsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_notifier_pulses_total",
			Help: "Update notifications pushed to clients",
		},
		[]string{"transport"},
	)

	SinkErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_sink_errors_total",
			Help: "Failures delivering watcher events to a sink",
		},
		[]string{"sink"},
	)

	PublishedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_published_events_total",
			Help: "Watcher events forwarded to an external bus",
		},
		[]string{"backend"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filedrop_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filedrop_downloads_total",
			Help: "Download attempts by status; file is set only for names that resolved to a shared file",
		},
		[]string{"file", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		FileEventsTotal,
		WatchedFiles,
		SnapshotDuration,
		NotifierSessionsActive,
		NotifierPulsesTotal,
		SinkErrorsTotal,
		PublishedEventsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DownloadsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that instruments HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()
			HTTPRequestDuration.WithLabelValues(
				c.Request().Method,
				c.Path(),
			).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// StartMetricsServer starts a standalone HTTP server serving /metrics on the given address.
func StartMetricsServer(addr string, logger log.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			// metrics are non-critical, keep serving the API
			level.Warn(logger).Log("msg", "metrics server stopped", "addr", addr, "err", err)
		}
	}()
	return srv
}
