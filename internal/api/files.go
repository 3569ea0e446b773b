package api

import (
	"errors"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"

	"github.com/filedrop/filedrop/internal/files"
	"github.com/filedrop/filedrop/internal/metrics"
)

func (s *Server) listFiles(c echo.Context) error {
	list, err := files.List(c.Request().Context(), s.dir, s.logger)
	if err != nil {
		level.Error(s.logger).Log("msg", "list files failed", "dir", s.dir, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to list files",
		})
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) download(c echo.Context) error {
	// URL.Path is decoded exactly once, so %2F arrives here as "/" and is
	// rejected by the name check.
	name := strings.TrimPrefix(c.Request().URL.Path, "/download/")
	remoteIP := c.RealIP()

	path, err := files.Resolve(s.dir, name)
	switch {
	case errors.Is(err, files.ErrInvalidName):
		level.Debug(s.logger).Log("msg", "rejected download name", "name", name, "remote_ip", remoteIP)
		metrics.DownloadsTotal.WithLabelValues("", "400").Inc()
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid file name",
		})
	case errors.Is(err, files.ErrNotFound):
		// Unserved names stay unlabelled so clients cannot mint series.
		metrics.DownloadsTotal.WithLabelValues("", "404").Inc()
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "file not found or deleted",
		})
	case err != nil:
		return s.downloadFailed(c, name, remoteIP, err)
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		metrics.DownloadsTotal.WithLabelValues("", "404").Inc()
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "file not found or deleted",
		})
	}
	if err != nil {
		return s.downloadFailed(c, name, remoteIP, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return s.downloadFailed(c, name, remoteIP, err)
	}

	level.Info(s.logger).Log("msg", "download", "file", name, "remote_ip", remoteIP, "size", stat.Size())
	metrics.DownloadsTotal.WithLabelValues(name, "200").Inc()

	h := c.Response().Header()
	h.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(c.Response(), c.Request(), name, stat.ModTime(), f)
	return nil
}

func (s *Server) downloadFailed(c echo.Context, name, remoteIP string, err error) error {
	level.Error(s.logger).Log("msg", "download failed", "file", name, "remote_ip", remoteIP, "err", err)
	metrics.DownloadsTotal.WithLabelValues(name, "500").Inc()
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "server error while downloading",
	})
}
