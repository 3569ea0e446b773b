package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/pkg/types"
)

// Objects is the subset of ObjectStore the mirror needs.
type Objects interface {
	Key(name string) string
	Upload(ctx context.Context, key, localPath string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// ErrQueueFull is returned by Mirror.Handle when uploads are falling behind.
var ErrQueueFull = errors.New("mirror queue full")

const (
	mirrorQueueSize = 256
	mirrorTimeout   = 5 * time.Minute
)

// Mirror keeps a bucket in step with the shared directory. Events are queued
// and processed by a single background worker so slow uploads never stall
// the watcher.
type Mirror struct {
	objects Objects
	dir     string
	logger  log.Logger
	queue   chan types.FileEvent
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewMirror creates a mirror of dir backed by objects.
func NewMirror(objects Objects, dir string, logger log.Logger) *Mirror {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Mirror{
		objects: objects,
		dir:     dir,
		logger:  log.With(logger, "component", "s3mirror"),
		queue:   make(chan types.FileEvent, mirrorQueueSize),
		stop:    make(chan struct{}),
	}
}

func (m *Mirror) Name() string { return "s3" }

// Handle enqueues ev without blocking.
func (m *Mirror) Handle(_ context.Context, ev types.FileEvent) error {
	select {
	case m.queue <- ev:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s %s", ErrQueueFull, ev.Type, ev.Name)
	}
}

// Start launches the upload worker.
func (m *Mirror) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case ev := <-m.queue:
				m.process(ev)
			case <-m.stop:
				m.drain()
				return
			}
		}
	}()
}

// Stop processes anything still queued and waits for the worker to exit.
func (m *Mirror) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Mirror) drain() {
	for {
		select {
		case ev := <-m.queue:
			m.process(ev)
		default:
			return
		}
	}
}

func (m *Mirror) process(ev types.FileEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	key := m.objects.Key(ev.Name)
	var err error
	switch ev.Type {
	case types.EventAdded, types.EventModified:
		var n int64
		n, err = m.objects.Upload(ctx, key, filepath.Join(m.dir, ev.Name))
		if errors.Is(err, os.ErrNotExist) {
			// Removed again before we got to it; the removal event follows.
			level.Debug(m.logger).Log("msg", "file vanished before upload", "name", ev.Name)
			return
		}
		if err == nil {
			level.Debug(m.logger).Log("msg", "uploaded", "name", ev.Name, "key", key, "bytes", n)
		}
	case types.EventRemoved:
		err = m.objects.Delete(ctx, key)
		if err == nil {
			level.Debug(m.logger).Log("msg", "deleted", "name", ev.Name, "key", key)
		}
	}

	if err != nil {
		metrics.SinkErrorsTotal.WithLabelValues(m.Name()).Inc()
		level.Warn(m.logger).Log("msg", "mirror failed", "type", ev.Type, "name", ev.Name, "err", err)
		return
	}
	metrics.PublishedEventsTotal.WithLabelValues("s3").Inc()
}
