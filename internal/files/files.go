// Package files implements the read-only views of the shared directory served
// over HTTP: the hashed listing and name resolution for downloads.
package files

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/filedrop/filedrop/pkg/types"
)

var (
	// ErrInvalidName is returned for names outside the allow-list or that
	// would escape the directory.
	ErrInvalidName = errors.New("invalid file name")
	// ErrNotFound is returned when a valid name does not resolve to a regular file.
	ErrNotFound = errors.New("file not found")
)

// Letters, digits, underscore, dot, hyphen and space.
var validName = regexp.MustCompile(`^[\p{L}\p{N}_.\- ]+$`)

// ValidateName checks a requested download name without touching the filesystem.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	if name == "." || name == ".." || strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if filepath.Base(name) != name {
		return ErrInvalidName
	}
	return nil
}

// Resolve validates name and returns the absolute path of the regular file it
// names inside dir.
func Resolve(dir, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	path := filepath.Join(root, name)
	if filepath.Dir(path) != root {
		return "", ErrInvalidName
	}

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// List returns every regular file directly inside dir with its SHA-256,
// newest first. A missing directory yields an empty list. Files that vanish
// while being read are skipped, as are files that cannot be hashed, which are
// logged at warn.
func List(ctx context.Context, dir string, logger log.Logger) ([]types.FileInfo, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []types.FileInfo{}, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	type listed struct {
		info    types.FileInfo
		modTime time.Time
	}
	out := make([]listed, 0, len(entries))

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(dir, entry.Name())
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sum, err := HashFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				level.Warn(logger).Log("msg", "skipping unreadable file", "file", entry.Name(), "err", err)
			}
			continue
		}

		out = append(out, listed{
			info: types.FileInfo{
				Name:     entry.Name(),
				Size:     info.Size(),
				Modified: info.ModTime().Format(time.RFC3339Nano),
				SHA256:   sum,
			},
			modTime: info.ModTime(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].modTime.After(out[j].modTime)
	})

	result := make([]types.FileInfo, len(out))
	for i, l := range out {
		result[i] = l.info
	}
	return result, nil
}

// HashFile computes the hex-encoded SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
