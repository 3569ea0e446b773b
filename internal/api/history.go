package api

import (
	"net/http"
	"strconv"

	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

func (s *Server) history(c echo.Context) error {
	if s.journal == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "event journal not configured",
		})
	}

	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.journal.Recent(c.Request().Context(), limit)
	if err != nil {
		level.Error(s.logger).Log("msg", "read history failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read history",
		})
	}
	return c.JSON(http.StatusOK, events)
}
