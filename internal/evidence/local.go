package evidence

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore writes evidence under a directory. Refs are paths relative to
// the process working directory, e.g. "uploads/<uuid>.png".
type LocalStore struct {
	dir      string
	maxBytes int64
	newName  func() string
}

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence: create dir: %w", err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes, newName: uuid.NewString}, nil
}

func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Save(ctx context.Context, u Upload) (string, error) {
	if err := Check(u, s.maxBytes); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, s.newName()+extension(u.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("evidence: create file: %w", err)
	}
	if _, err := io.Copy(f, newLimitBody(u.Body, s.maxBytes)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("evidence: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("evidence: close file: %w", err)
	}
	return filepath.ToSlash(path), nil
}
