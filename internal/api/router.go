package api

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/filedrop/filedrop/internal/journal"
	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/internal/watcher"
)

// contentSecurityPolicy allows the bundled UI plus its CDN stylesheet and
// scripts, and nothing else.
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"style-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net",
	"script-src 'self' 'unsafe-inline' https://cdn.jsdelivr.net",
	"font-src 'self' https://cdn.jsdelivr.net",
	"img-src 'self' data:",
	"connect-src 'self'",
}, "; ")

// Options configures a Server.
type Options struct {
	DataDir      string
	PollInterval time.Duration
	SSEHeartbeat time.Duration
	StaticDir    string
	Journal      journal.Store // optional; /api/history returns 503 without it
	Logger       log.Logger
}

// Server holds the API server dependencies.
type Server struct {
	echo      *echo.Echo
	dir       string
	interval  time.Duration
	heartbeat time.Duration
	journal   journal.Store
	logger    log.Logger

	// base is the parent of every request context; cancelling it ends
	// open event streams so Shutdown does not wait on them.
	base   context.Context
	cancel context.CancelFunc
}

// NewServer creates a new API server with all routes configured.
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if opts.PollInterval <= 0 {
		opts.PollInterval = watcher.DefaultInterval
	}
	if opts.SSEHeartbeat <= 0 {
		opts.SSEHeartbeat = defaultHeartbeat
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	s := &Server{
		echo:      e,
		dir:       opts.DataDir,
		interval:  opts.PollInterval,
		heartbeat: opts.SSEHeartbeat,
		journal:   opts.Journal,
		logger:    log.With(opts.Logger, "component", "api"),
	}
	s.base, s.cancel = context.WithCancel(context.Background())
	e.Server.BaseContext = func(net.Listener) context.Context { return s.base }

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(s.logger))
	e.Use(metrics.EchoMiddleware())
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: contentSecurityPolicy,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	gzip := echo.WrapMiddleware(func(h http.Handler) http.Handler {
		return gzhttp.GzipHandler(h)
	})
	e.GET("/api/files", s.listFiles, gzip)
	e.GET("/api/history", s.history, gzip)
	e.GET("/download/*", s.download)

	// Live updates
	e.GET("/events", s.events)
	e.GET("/ws", s.wsEvents)

	if opts.StaticDir != "" {
		e.File("/", filepath.Join(opts.StaticDir, "index.html"))
		e.Static("/static", opts.StaticDir)
	}

	return s
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests,
// cancelling open event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.echo.Shutdown(ctx)
}

// Close immediately closes all listeners and connections.
func (s *Server) Close() error {
	s.cancel()
	return s.echo.Close()
}
