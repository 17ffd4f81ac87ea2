// Package fsstore discovers raw instrument files and writes stage artifacts
// atomically on the local filesystem.
package fsstore

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Store is a filesystem-backed artifact store.
type Store struct{}

// New returns a filesystem store.
func New() *Store { return &Store{} }

// Discover returns the regular files under dir whose name ends with
// "."+productType, sorted by path. Subdirectories are walked.
func (s *Store) Discover(dir, productType string) ([]string, error) {
	suffix := "." + productType
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s files in %s: %w", productType, dir, err)
	}
	slices.Sort(files)
	return files, nil
}

// Open opens a file for reading.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// WriteAtomic writes an artifact through a temporary file in the target
// directory and renames it into place. On any failure the temporary file is
// removed and path is left untouched.
func (s *Store) WriteAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()           //nolint:errcheck // already failing
			os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync artifact %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod artifact %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact %s: %w", path, err)
	}
	return nil
}
