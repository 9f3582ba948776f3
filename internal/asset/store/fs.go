package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"spadina.network/internal/asset"
)

// FS stores blobs under root, sharded two levels deep by the first
// four hex digits of the id: root/ab/cd/abcd....
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("asset store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create asset store root: %w", err)
	}
	return &FS{root: root}, nil
}

func (s *FS) path(id asset.ID) string {
	h := string(id)
	return filepath.Join(s.root, h[0:2], h[2:4], h)
}

// Put writes the blob to a temp file and renames it into place, so
// concurrent puts of the same asset race harmlessly.
func (s *FS) Put(_ context.Context, id asset.ID, data []byte) error {
	if err := checkPut(id, data); err != nil {
		return err
	}
	final := s.path(id)
	if _, err := os.Stat(final); err == nil {
		return nil
	}
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create asset shard: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+string(id)+".*")
	if err != nil {
		return fmt.Errorf("create asset temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write asset %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close asset %s: %w", id, err)
	}
	if err := os.Rename(name, final); err != nil {
		os.Remove(name)
		return fmt.Errorf("publish asset %s: %w", id, err)
	}
	return nil
}

func (s *FS) Get(_ context.Context, id asset.ID) ([]byte, error) {
	if !id.Valid() {
		return nil, asset.ErrMissing
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", asset.ErrMissing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", id, err)
	}
	if err := id.Verify(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FS) Exists(_ context.Context, id asset.ID) (bool, error) {
	if !id.Valid() {
		return false, nil
	}
	_, err := os.Stat(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *FS) List(ctx context.Context, fn func(asset.ID) bool) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		id := asset.ID(d.Name())
		if !id.Valid() {
			return nil
		}
		if !fn(id) {
			return filepath.SkipAll
		}
		return nil
	})
}

var _ Store = (*FS)(nil)
