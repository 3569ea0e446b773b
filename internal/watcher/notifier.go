package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/internal/snapshot"
)

// Notifier tracks the directory on behalf of one connected client and reports
// a bare "something changed" pulse. It is not safe for concurrent use; each
// connection owns its own Notifier.
type Notifier struct {
	dir      string
	interval time.Duration
	logger   log.Logger
	capture  func(dir string) (snapshot.Snapshot, error)
	last     snapshot.Snapshot
	missing  bool
}

// NewNotifier returns a Notifier whose last known state is empty, so the first
// poll of a non-empty directory reports a change.
func NewNotifier(dir string, interval time.Duration, logger log.Logger) *Notifier {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Notifier{
		dir:      dir,
		interval: interval,
		logger:   logger,
		capture:  snapshot.CaptureErr,
		last:     snapshot.Snapshot{},
	}
}

// Poll captures the directory once and reports whether it differs from the
// previous capture. The new capture is adopted only when it differs. An
// unreadable directory counts as empty and is logged once until it recovers.
func (n *Notifier) Poll() (changed bool) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(n.logger).Log("msg", "notifier poll failed", "panic", fmt.Sprint(r))
			changed = false
		}
	}()

	start := time.Now()
	cur, err := n.capture(n.dir)
	switch {
	case err != nil && !n.missing:
		level.Warn(n.logger).Log("msg", "directory unavailable", "dir", n.dir, "err", err)
		n.missing = true
	case err == nil && n.missing:
		level.Info(n.logger).Log("msg", "directory available again", "dir", n.dir)
		n.missing = false
	}
	diff := snapshot.Diff(n.last, cur)
	metrics.SnapshotDuration.WithLabelValues("notifier").Observe(time.Since(start).Seconds())

	if diff.Empty() {
		return false
	}
	n.last = cur
	return true
}

// Run polls immediately and then once per interval, calling emit exactly once
// for every poll that saw a change. It returns when ctx is done or emit fails.
func (n *Notifier) Run(ctx context.Context, emit func() error) error {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n.Poll() {
			if err := emit(); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
