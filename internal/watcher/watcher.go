// Package watcher detects changes in the shared directory by comparing
// consecutive snapshots. The Watcher is the single process-wide loop that
// reports file lifecycle events; a Notifier is created per live-update client.
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/internal/snapshot"
	"github.com/filedrop/filedrop/pkg/types"
)

const (
	DefaultInterval    = 2 * time.Second
	defaultSinkTimeout = 10 * time.Second
)

// Sink receives every event the Watcher emits. Handle must not retain ev
// beyond the call unless it copies it.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev types.FileEvent) error
}

// Trigger wakes the Watcher before its interval elapses.
type Trigger interface {
	C() <-chan struct{}
	// Rearm is called once per cycle so the trigger can re-attach to a
	// directory that disappeared and came back.
	Rearm()
	Close() error
}

// Options configures a Watcher.
type Options struct {
	Dir         string
	Interval    time.Duration
	Logger      log.Logger
	Sinks       []Sink
	Trigger     Trigger
	SinkTimeout time.Duration
}

// Watcher periodically snapshots a directory and emits one event per added,
// removed or modified file.
type Watcher struct {
	dir         string
	interval    time.Duration
	logger      log.Logger
	sinks       []Sink
	trigger     Trigger
	sinkTimeout time.Duration

	// owned by the loop goroutine
	last    snapshot.Snapshot
	missing bool

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a Watcher. Call Start to begin watching.
func New(opts Options) *Watcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	sinkTimeout := opts.SinkTimeout
	if sinkTimeout <= 0 {
		sinkTimeout = defaultSinkTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Watcher{
		dir:         opts.Dir,
		interval:    interval,
		logger:      log.With(logger, "component", "watcher"),
		sinks:       opts.Sinks,
		trigger:     opts.Trigger,
		sinkTimeout: sinkTimeout,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start captures the initial snapshot and launches the background loop.
// Calls after the first, or after Stop, do nothing.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		w.started = true
		w.init()
		go w.loop()
		level.Info(w.logger).Log("msg", "started", "dir", w.dir, "interval", w.interval, "files", len(w.last))
	})
}

// Stop ends the loop and waits for the in-flight cycle to finish. It is safe
// to call more than once, and on a Watcher that was never started.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		// Waits out a concurrent Start, and disables any later one.
		w.startOnce.Do(func() {})
		close(w.stop)
		if w.started {
			<-w.done
		}
		if w.trigger != nil {
			w.trigger.Close()
		}
		level.Info(w.logger).Log("msg", "stopped")
	})
}

func (w *Watcher) init() {
	snap, err := snapshot.CaptureErr(w.dir)
	if err != nil {
		level.Warn(w.logger).Log("msg", "directory unavailable, starting empty", "dir", w.dir, "err", err)
		w.missing = true
	}
	w.last = snap
	metrics.WatchedFiles.Set(float64(len(snap)))
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var wake <-chan struct{}
	if w.trigger != nil {
		wake = w.trigger.C()
	}

	for {
		select {
		case <-ticker.C:
		case <-wake:
		case <-w.stop:
			return
		}
		w.cycle()
	}
}

// cycle runs one capture/diff/emit round. A panic is logged and the previous
// snapshot is kept.
func (w *Watcher) cycle() (diff snapshot.DiffResult) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(w.logger).Log("msg", "cycle failed", "panic", fmt.Sprint(r))
		}
	}()

	if w.trigger != nil {
		w.trigger.Rearm()
	}

	start := time.Now()
	cur, err := snapshot.CaptureErr(w.dir)
	switch {
	case err != nil && !w.missing:
		level.Warn(w.logger).Log("msg", "directory unavailable", "dir", w.dir, "err", err)
		w.missing = true
	case err == nil && w.missing:
		level.Info(w.logger).Log("msg", "directory available again", "dir", w.dir)
		w.missing = false
	}

	diff = snapshot.Diff(w.last, cur)
	metrics.SnapshotDuration.WithLabelValues("watcher").Observe(time.Since(start).Seconds())

	prev := w.last
	w.last = cur
	metrics.WatchedFiles.Set(float64(len(cur)))

	for _, ev := range buildEvents(diff, prev, cur, time.Now()) {
		w.emit(ev)
	}
	return diff
}

func buildEvents(diff snapshot.DiffResult, prev, cur snapshot.Snapshot, now time.Time) []types.FileEvent {
	events := make([]types.FileEvent, 0, diff.Len())
	for _, name := range diff.Added {
		r := cur[name]
		events = append(events, types.FileEvent{Type: types.EventAdded, Name: name, Size: r.Size, ModifiedAt: r.ModifiedAt, DetectedAt: now})
	}
	for _, name := range diff.Removed {
		r := prev[name]
		events = append(events, types.FileEvent{Type: types.EventRemoved, Name: name, Size: r.Size, ModifiedAt: r.ModifiedAt, DetectedAt: now})
	}
	for _, name := range diff.Changed {
		r := cur[name]
		events = append(events, types.FileEvent{Type: types.EventModified, Name: name, Size: r.Size, ModifiedAt: r.ModifiedAt, DetectedAt: now})
	}
	return events
}

func (w *Watcher) emit(ev types.FileEvent) {
	level.Info(w.logger).Log("msg", "file "+string(ev.Type), "event", ev.Type, "file", ev.Name, "size", ev.Size)
	metrics.FileEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	for _, sink := range w.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), w.sinkTimeout)
		err := sink.Handle(ctx, ev)
		cancel()
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			level.Warn(w.logger).Log("msg", "sink failed", "sink", sink.Name(), "file", ev.Name, "err", err)
		}
	}
}
