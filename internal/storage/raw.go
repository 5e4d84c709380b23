package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// RawArchive keeps a copy of every fetched message, named by content hash.
type RawArchive struct {
	Dir string
}

func NewRawArchive(dir string) *RawArchive {
	return &RawArchive{Dir: dir}
}

// Store writes raw once and returns its path.
func (a *RawArchive) Store(raw []byte) (string, error) {
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(a.Dir, hash+".eml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return "", err
		}
	}
	return path, nil
}
