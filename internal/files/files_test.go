package files

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
)

func writeFile(t *testing.T, dir, name, content string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"report.pdf", "my file.txt", "data_2024-01.csv", "été.txt", ".hidden", "..x"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, expected nil", name, err)
		}
	}

	invalid := []string{"", ".", "..", "../etc/passwd", "a/b", "/etc/passwd", `..\win`, "a%2fb", "name;rm", "tab\tname", "   "}
	for _, name := range invalid {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, expected ErrInvalidName", name, err)
		}
	}
}

func TestResolve_RejectsTraversalBeforeLookup(t *testing.T) {
	// The directory does not exist, so any filesystem access would surface
	// as ErrNotFound rather than ErrInvalidName.
	dir := filepath.Join(t.TempDir(), "missing")

	for _, name := range []string{"../secret", "sub/file", ".."} {
		if _, err := Resolve(dir, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Resolve(%q) = %v, expected ErrInvalidName", name, err)
		}
	}
}

func TestResolve_NotFound(t *testing.T) {
	dir := t.TempDir()

	if _, err := Resolve(dir, "nofile.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolve_DirectoryIsNotFound(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := Resolve(dir, "sub"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a directory, got %v", err)
	}
}

func TestResolve_SymlinkIsNotFound(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("s"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(dir, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := Resolve(dir, "link.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected symlink to be refused, got %v", err)
	}
}

func TestResolve_Existing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "testfile.txt", "contenu test", time.Now())

	path, err := Resolve(dir, "testfile.txt")
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if filepath.Base(path) != "testfile.txt" || !filepath.IsAbs(path) {
		t.Errorf("unexpected resolved path %s", path)
	}
}

func TestList_SortedNewestFirstWithHashes(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, dir, "old.txt", "old", base)
	writeFile(t, dir, "new.txt", "new", base.Add(2*time.Hour))
	writeFile(t, dir, "mid.txt", "", base.Add(time.Hour))
	if err := os.Mkdir(filepath.Join(dir, "skipme"), 0755); err != nil {
		t.Fatal(err)
	}

	list, err := List(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 files, got %d", len(list))
	}

	order := []string{list[0].Name, list[1].Name, list[2].Name}
	if order[0] != "new.txt" || order[1] != "mid.txt" || order[2] != "old.txt" {
		t.Errorf("expected newest first, got %v", order)
	}

	// sha256("") is well known.
	if list[1].SHA256 != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected hash for empty file: %s", list[1].SHA256)
	}
	if list[0].Size != 3 {
		t.Errorf("expected size 3, got %d", list[0].Size)
	}
	if _, err := time.Parse(time.RFC3339Nano, list[0].Modified); err != nil {
		t.Errorf("modified is not RFC 3339: %q", list[0].Modified)
	}
}

func TestList_MissingDirectory(t *testing.T) {
	list, err := List(context.Background(), filepath.Join(t.TempDir(), "gone"), nil)
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty non-nil list, got %v", list)
	}
}

func TestList_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a", "a", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := List(ctx, dir, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestList_SkipsUnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	dir := t.TempDir()
	writeFile(t, dir, "ok.txt", "ok", time.Now())
	writeFile(t, dir, "locked.txt", "secret", time.Now())
	if err := os.Chmod(filepath.Join(dir, "locked.txt"), 0); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	list, err := List(context.Background(), dir, log.NewLogfmtLogger(&buf))
	if err != nil {
		t.Fatalf("List() returned error: %v", err)
	}
	if len(list) != 1 || list[0].Name != "ok.txt" {
		t.Errorf("expected only ok.txt, got %+v", list)
	}
	if !strings.Contains(buf.String(), "locked.txt") {
		t.Errorf("expected skipped file to be logged, got %q", buf.String())
	}
}
