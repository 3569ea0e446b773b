package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var (
	t1 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC)
)

func rec(name string, size int64, mod time.Time) FileRecord {
	return FileRecord{Name: name, Size: size, ModifiedAt: mod}
}

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDiff_SameSnapshotIsEmpty(t *testing.T) {
	s := Snapshot{
		"a.txt": rec("a.txt", 10, t1),
		"b.txt": rec("b.txt", 20, t2),
	}

	d := Diff(s, s)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
	if d.Len() != 0 {
		t.Errorf("expected Len 0, got %d", d.Len())
	}
}

func TestDiff_EmptySnapshots(t *testing.T) {
	d := Diff(Snapshot{}, Snapshot{})
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_Disjoint(t *testing.T) {
	old := Snapshot{"a": rec("a", 10, t1)}
	cur := Snapshot{"b": rec("b", 5, t2)}

	d := Diff(old, cur)
	if !reflect.DeepEqual(d.Added, []string{"b"}) {
		t.Errorf("expected added [b], got %v", d.Added)
	}
	if !reflect.DeepEqual(d.Removed, []string{"a"}) {
		t.Errorf("expected removed [a], got %v", d.Removed)
	}
	if len(d.Changed) != 0 {
		t.Errorf("expected no changed, got %v", d.Changed)
	}
}

func TestDiff_UnchangedNameInNoSet(t *testing.T) {
	old := Snapshot{"same": rec("same", 7, t1), "gone": rec("gone", 1, t1)}
	cur := Snapshot{"same": rec("same", 7, t1), "new": rec("new", 1, t2)}

	d := Diff(old, cur)
	for _, set := range [][]string{d.Added, d.Removed, d.Changed} {
		for _, name := range set {
			if name == "same" {
				t.Fatalf("unchanged file reported in diff: %+v", d)
			}
		}
	}
}

func TestDiff_SizeOrTimeChange(t *testing.T) {
	tests := []struct {
		name string
		old  FileRecord
		cur  FileRecord
	}{
		{"size", rec("f", 10, t1), rec("f", 11, t1)},
		{"mtime", rec("f", 10, t1), rec("f", 10, t2)},
		{"both", rec("f", 10, t1), rec("f", 3, t2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diff(Snapshot{"f": tt.old}, Snapshot{"f": tt.cur})
			if !reflect.DeepEqual(d.Changed, []string{"f"}) {
				t.Errorf("expected changed [f], got %v", d.Changed)
			}
			if len(d.Added) != 0 || len(d.Removed) != 0 {
				t.Errorf("expected only changed, got %+v", d)
			}
		})
	}
}

func TestDiff_TimeEqualityAcrossLocations(t *testing.T) {
	old := Snapshot{"f": rec("f", 1, t1)}
	cur := Snapshot{"f": rec("f", 1, t1.In(time.FixedZone("X", 3600)))}

	if d := Diff(old, cur); !d.Empty() {
		t.Errorf("expected same instant in another zone to compare equal, got %+v", d)
	}
}

func TestDiff_ResultsSorted(t *testing.T) {
	cur := Snapshot{"c": rec("c", 1, t1), "a": rec("a", 1, t1), "b": rec("b", 1, t1)}

	d := Diff(Snapshot{}, cur)
	if !reflect.DeepEqual(d.Added, []string{"a", "b", "c"}) {
		t.Errorf("expected sorted added, got %v", d.Added)
	}
}

func TestCapture_MissingDirectory(t *testing.T) {
	snap := Capture(filepath.Join(t.TempDir(), "does-not-exist"))
	if len(snap) != 0 {
		t.Errorf("expected empty snapshot, got %d entries", len(snap))
	}

	_, err := CaptureErr(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected CaptureErr to report missing directory")
	}
}

func TestCapture_SkipsDirectoriesAndSymlinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", 100)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "nested.txt", 1)
	if err := os.Symlink(filepath.Join(dir, "a.txt"), filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	snap := Capture(dir)
	if !reflect.DeepEqual(snap.Names(), []string{"a.txt"}) {
		t.Errorf("expected only a.txt, got %v", snap.Names())
	}
	if snap["a.txt"].Size != 100 {
		t.Errorf("expected size 100, got %d", snap["a.txt"].Size)
	}
}

func TestCapture_AppendDetectedAsChanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", 100)
	writeFile(t, dir, "b.txt", 50)

	before := Capture(dir)

	f, err := os.OpenFile(filepath.Join(dir, "a.txt"), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{'x'}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	d := Diff(before, Capture(dir))
	if !reflect.DeepEqual(d.Changed, []string{"a.txt"}) {
		t.Errorf("expected changed [a.txt], got %v", d.Changed)
	}
	if len(d.Added) != 0 || len(d.Removed) != 0 {
		t.Errorf("expected no added/removed, got %+v", d)
	}
}

func TestCapture_DeleteAndAdd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", 100)
	writeFile(t, dir, "b.txt", 50)

	before := Capture(dir)

	if err := os.Remove(filepath.Join(dir, "b.txt")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "c.txt", 5)

	d := Diff(before, Capture(dir))
	if !reflect.DeepEqual(d.Added, []string{"c.txt"}) {
		t.Errorf("expected added [c.txt], got %v", d.Added)
	}
	if !reflect.DeepEqual(d.Removed, []string{"b.txt"}) {
		t.Errorf("expected removed [b.txt], got %v", d.Removed)
	}
	if len(d.Changed) != 0 {
		t.Errorf("expected no changed, got %v", d.Changed)
	}
}
