package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Globator25/Lokaltreu-sub000/internal/errs"
)

// ObjectStore holds exported artifacts. Put is write-once.
type ObjectStore interface {
	// Put creates key with data. An existing key with different content
	// yields errs.ErrAlreadyExists; identical content is accepted.
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore is an ObjectStore over a local directory. Objects are created
// exclusively and left read-only.
type FileStore struct{ root string }

// NewFileStore constructs a store rooted at dir.
func NewFileStore(dir string) *FileStore { return &FileStore{root: dir} }

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("object key %q: %w", key, errs.ErrInvalidInput)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put implements ObjectStore.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if errors.Is(err, fs.ErrExist) {
		prev, rerr := os.ReadFile(p)
		if rerr == nil && bytes.Equal(prev, data) {
			return nil
		}
		return fmt.Errorf("object %s: %w", key, errs.ErrAlreadyExists)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return err
	}
	return f.Close()
}

// Get implements ObjectStore.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("object %s: %w", key, errs.ErrNotFound)
	}
	return b, err
}
