// Package logging builds the structured logger shared by all components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// New returns a logfmt logger writing to w that drops records below lvl.
func New(w io.Writer, lvl string) log.Logger {
	var logger log.Logger
	logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = NewTrailingNilFilter(logger)
	logger = level.NewFilter(logger, allowOption(lvl))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	return logger
}

// Open returns a logger writing to stderr and, if file is set, appending to
// that file as well. The returned closer releases the file.
func Open(lvl, file string) (log.Logger, io.Closer, error) {
	if file == "" {
		return New(os.Stderr, lvl), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return New(io.MultiWriter(os.Stderr, f), lvl), f, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() log.Logger {
	return log.NewNopLogger()
}

func allowOption(lvl string) level.Option {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none":
		return level.AllowNone()
	default:
		return level.AllowInfo()
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type nilFilter struct {
	next log.Logger
}

// NewTrailingNilFilter removes key value pairs at the end with a nil value.
// This mainly gets rid of err=null trailers.
func NewTrailingNilFilter(logger log.Logger) log.Logger {
	return &nilFilter{next: logger}
}

func (l nilFilter) Log(keyvals ...interface{}) error {
	for i := len(keyvals) - 1; i > 0; i -= 2 {
		if keyvals[i] != nil {
			return l.next.Log(keyvals[:i+1]...)
		}
	}
	return l.next.Log(keyvals...)
}
