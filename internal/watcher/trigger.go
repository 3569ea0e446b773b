package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// FSTrigger wakes the Watcher whenever the OS reports activity in the
// directory. Bursts collapse into a single pending wake-up.
type FSTrigger struct {
	dir    string
	fsw    *fsnotify.Watcher
	c      chan struct{}
	done   chan struct{}
	logger log.Logger

	mu       sync.Mutex
	watching bool
	closed   bool
}

// NewFSTrigger creates a trigger for dir. The directory does not need to exist
// yet; Rearm attaches to it once it appears.
func NewFSTrigger(dir string, logger log.Logger) (*FSTrigger, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	t := &FSTrigger{
		dir:    filepath.Clean(dir),
		fsw:    fsw,
		c:      make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: log.With(logger, "component", "fstrigger"),
	}
	t.Rearm()
	go t.forward()
	return t, nil
}

// C returns the wake-up channel.
func (t *FSTrigger) C() <-chan struct{} {
	return t.c
}

// Rearm adds the OS watch if it is not currently active.
func (t *FSTrigger) Rearm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watching || t.closed {
		return
	}
	if err := t.fsw.Add(t.dir); err != nil {
		level.Debug(t.logger).Log("msg", "cannot watch directory yet", "dir", t.dir, "err", err)
		return
	}
	t.watching = true
	level.Debug(t.logger).Log("msg", "watching directory", "dir", t.dir)
}

// Close stops the trigger and releases the OS watch.
func (t *FSTrigger) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.done)
	return t.fsw.Close()
}

func (t *FSTrigger) forward() {
	for {
		select {
		case ev, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == t.dir && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
				t.mu.Lock()
				t.watching = false
				t.mu.Unlock()
			}
			select {
			case t.c <- struct{}{}:
			default:
			}
		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			level.Warn(t.logger).Log("msg", "fsnotify error", "err", err)
		case <-t.done:
			return
		}
	}
}
