package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore writes rendered documents into one directory. A file that already
// exists counts as processed unless Force is set.
type FileStore struct {
	Dir   string
	Force bool
}

func NewFileStore(dir string, force bool) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{Dir: dir, Force: force}
}

func (s *FileStore) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Exists reports whether name should be skipped as already processed.
func (s *FileStore) Exists(name string) bool {
	if s.Force {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

func (s *FileStore) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
