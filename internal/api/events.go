package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/internal/watcher"
)

const (
	defaultHeartbeat = 15 * time.Second
	sseRetryInterval = 5 * time.Second
	wsWriteTimeout   = 10 * time.Second

	updateMessage = "update"
)

var errSSENoFlusher = errors.New("sse response writer does not support flushing")

// A nil CheckOrigin rejects browsers whose Origin host differs from the
// request host. Clients that send no Origin, such as the CLI, are accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// sseWriter serialises writes from the notifier and the heartbeat.
type sseWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

func startSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errSSENoFlusher
	}

	headers := w.Header()
	headers.Set(echo.HeaderContentType, "text/event-stream")
	headers.Set("Cache-Control", "no-store")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher.Flush()
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (sw *sseWriter) write(s string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := io.WriteString(sw.writer, s); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *sseWriter) WriteRetry(retry time.Duration) error {
	return sw.write("retry: " + strconv.FormatInt(retry.Milliseconds(), 10) + "\n\n")
}

func (sw *sseWriter) WriteComment(comment string) error {
	return sw.write(": " + comment + "\n\n")
}

func (sw *sseWriter) WriteData(data string) error {
	return sw.write("data: " + data + "\n\n")
}

// events streams a bare "update" pulse whenever the directory changes. Each
// connection polls on its own and does not share state with the watcher.
func (s *Server) events(c echo.Context) error {
	sw, err := startSSEWriter(c.Response())
	if err != nil {
		level.Error(s.logger).Log("msg", "sse stream unavailable", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "sse stream unavailable",
		})
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	logger := log.With(s.logger, "session", uuid.NewString(), "transport", "sse")
	level.Debug(logger).Log("msg", "client connected", "remote_ip", c.RealIP())
	metrics.NotifierSessionsActive.WithLabelValues("sse").Inc()
	defer metrics.NotifierSessionsActive.WithLabelValues("sse").Dec()

	if err := sw.WriteRetry(sseRetryInterval); err != nil {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sw.WriteComment("ping"); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	n := watcher.NewNotifier(s.dir, s.interval, logger)
	err = n.Run(ctx, func() error {
		metrics.NotifierPulsesTotal.WithLabelValues("sse").Inc()
		return sw.WriteData(updateMessage)
	})
	cancel()
	wg.Wait()

	level.Debug(logger).Log("msg", "client disconnected", "reason", err)
	return nil
}

// wsEvents is the WebSocket flavour of events: one text message per pulse,
// ping control frames as heartbeat.
func (s *Server) wsEvents(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		level.Debug(s.logger).Log("msg", "websocket upgrade rejected", "remote_ip", c.RealIP(), "origin", c.Request().Header.Get("Origin"), "err", err)
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	logger := log.With(s.logger, "session", uuid.NewString(), "transport", "ws")
	level.Debug(logger).Log("msg", "client connected", "remote_ip", c.RealIP())
	metrics.NotifierSessionsActive.WithLabelValues("ws").Inc()
	defer metrics.NotifierSessionsActive.WithLabelValues("ws").Dec()

	// The client never sends data; reading surfaces its close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	n := watcher.NewNotifier(s.dir, s.interval, logger)
	err = n.Run(ctx, func() error {
		metrics.NotifierPulsesTotal.WithLabelValues("ws").Inc()
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return ws.WriteMessage(websocket.TextMessage, []byte(updateMessage))
	})

	level.Debug(logger).Log("msg", "client disconnected", "reason", err)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}
