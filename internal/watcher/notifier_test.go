package watcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"

	"github.com/filedrop/filedrop/internal/snapshot"
)

func TestNotifier_EmptyDirectoryNeverPulses(t *testing.T) {
	n := NewNotifier(t.TempDir(), time.Second, nil)

	if n.Poll() {
		t.Error("expected no change on first poll of empty directory")
	}
	if n.Poll() {
		t.Error("expected no change on second poll of empty directory")
	}
}

func TestNotifier_FirstPollReportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.txt", 1)

	n := NewNotifier(dir, time.Second, nil)
	if !n.Poll() {
		t.Fatal("expected first poll to report existing files")
	}
	if n.Poll() {
		t.Error("expected no change on the following poll")
	}
}

func TestNotifier_OnePulseForManyChanges(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a", 1)
	write(t, dir, "b", 1)

	n := NewNotifier(dir, time.Second, nil)
	n.Poll()

	write(t, dir, "a", 2)
	write(t, dir, "c", 1)
	if err := os.Remove(filepath.Join(dir, "b")); err != nil {
		t.Fatal(err)
	}

	if !n.Poll() {
		t.Fatal("expected change to be reported")
	}
	if n.Poll() {
		t.Error("expected change to be reported only once")
	}
}

func TestNotifier_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	n := NewNotifier(dir, time.Second, nil)

	if n.Poll() {
		t.Error("expected missing directory to look empty")
	}
}

func TestNotifier_RunEmitsPerChange(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "first", 1)

	n := NewNotifier(dir, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pulses int32
	errc := make(chan error, 1)
	go func() {
		errc <- n.Run(ctx, func() error {
			atomic.AddInt32(&pulses, 1)
			return nil
		})
	}()

	waitFor(t, func() bool { return atomic.LoadInt32(&pulses) == 1 })

	// Several idle cycles must not produce pulses.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&pulses); got != 1 {
		t.Fatalf("expected 1 pulse while idle, got %d", got)
	}

	write(t, dir, "second", 1)
	waitFor(t, func() bool { return atomic.LoadInt32(&pulses) == 2 })

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNotifier_RunStopsOnEmitError(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "x", 1)

	n := NewNotifier(dir, 10*time.Millisecond, nil)
	gone := errors.New("client gone")

	err := n.Run(context.Background(), func() error { return gone })
	if !errors.Is(err, gone) {
		t.Errorf("expected emit error to be returned, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotifier_LogsUnavailableDirectoryOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "drop")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	write(t, dir, "a.txt", 1)

	var buf bytes.Buffer
	n := NewNotifier(dir, time.Second, log.NewLogfmtLogger(&buf))
	n.Poll()

	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if !n.Poll() {
		t.Error("expected removal of the directory to be reported")
	}
	n.Poll()

	if got := strings.Count(buf.String(), "directory unavailable"); got != 1 {
		t.Errorf("expected one unavailable log line, got %d:\n%s", got, buf.String())
	}

	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	n.Poll()
	if !strings.Contains(buf.String(), "directory available again") {
		t.Errorf("expected recovery to be logged, got:\n%s", buf.String())
	}
}

func TestNotifier_PanicInPollIsRecovered(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.txt", 1)

	var buf bytes.Buffer
	n := NewNotifier(dir, 10*time.Millisecond, log.NewLogfmtLogger(&buf))

	var calls int32
	n.capture = func(dir string) (snapshot.Snapshot, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		return snapshot.CaptureErr(dir)
	}

	if n.Poll() {
		t.Error("expected a panicking poll to report no change")
	}
	if !strings.Contains(buf.String(), "notifier poll failed") {
		t.Errorf("expected panic to be logged, got:\n%s", buf.String())
	}

	// Run keeps going after a panic and still delivers the pending change.
	atomic.StoreInt32(&calls, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stop := errors.New("stop")
	err := n.Run(ctx, func() error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected Run to emit after recovering, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got < 2 {
		t.Errorf("expected at least 2 captures, got %d", got)
	}
}
