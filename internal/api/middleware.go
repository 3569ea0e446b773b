package api

import (
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"
)

// requestLogger logs one line per request. Long-lived streams are logged when
// they end.
func requestLogger(logger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			lvl := level.Debug
			if res.Status >= 500 {
				lvl = level.Error
			}
			lvl(logger).Log(
				"msg", "request",
				"method", req.Method,
				"uri", req.RequestURI,
				"status", res.Status,
				"bytes", res.Size,
				"remote_ip", c.RealIP(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"took", time.Since(start),
			)
			return nil
		}
	}
}
