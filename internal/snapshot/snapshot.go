// Package snapshot captures the state of a single directory and compares
// captures taken at different times.
package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileRecord is the captured state of one regular file.
type FileRecord struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}

// Snapshot maps file names to their captured state.
type Snapshot map[string]FileRecord

// Names returns the snapshot's file names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capture lists dir and records every regular file directly inside it.
// A missing or unreadable directory yields an empty snapshot.
func Capture(dir string) Snapshot {
	snap, _ := CaptureErr(dir)
	return snap
}

// CaptureErr is Capture but also returns the listing error, if any. The
// returned snapshot is always usable.
func CaptureErr(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, err
	}

	snap := make(Snapshot, len(entries))
	for _, entry := range entries {
		// Lstat so that symlinks are reported as such and skipped.
		info, err := os.Lstat(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue // vanished between listing and stat
		}
		if !info.Mode().IsRegular() {
			continue
		}
		snap[entry.Name()] = FileRecord{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		}
	}
	return snap, nil
}

// DiffResult classifies the differences between two snapshots. Each slice is
// sorted by name.
type DiffResult struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether the two compared snapshots were equivalent.
func (d DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Len returns the total number of differing names.
func (d DiffResult) Len() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Diff compares old against new. A name is changed when it is present in both
// and its size or modification time differ; contents are never compared.
func Diff(old, new Snapshot) DiffResult {
	var result DiffResult
	for name, cur := range new {
		prev, ok := old[name]
		if !ok {
			result.Added = append(result.Added, name)
			continue
		}
		if prev.Size != cur.Size || !prev.ModifiedAt.Equal(cur.ModifiedAt) {
			result.Changed = append(result.Changed, name)
		}
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			result.Removed = append(result.Removed, name)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Changed)
	return result
}
