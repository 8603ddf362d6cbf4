package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dharsanguruparan/HashDrop/internal/model"
)

const tmpDir = "tmp"

// DiskBackend keeps blobs under root/<aa>/<bb>/<id>. Writes go to a temp
// file that is fsynced and atomically renamed into place, so a reader never
// sees a partial blob and two writers of the same id cannot interleave.
type DiskBackend struct {
	root string
}

// NewDiskBackend creates root (and its temp directory) if needed.
func NewDiskBackend(root string) (*DiskBackend, error) {
	if err := os.MkdirAll(filepath.Join(root, tmpDir), 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", root, err)
	}
	return &DiskBackend{root: root}, nil
}

func (d *DiskBackend) path(id ID) string {
	return filepath.Join(d.root, string(id[:2]), string(id[2:4]), string(id))
}

// Exists implements Backend.
func (d *DiskBackend) Exists(_ context.Context, id ID) (bool, error) {
	_, err := os.Stat(d.path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Write implements Backend.
func (d *DiskBackend) Write(ctx context.Context, id ID, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := d.path(id)
	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		return fmt.Errorf("create fanout dir: %w", err)
	}
	f, err := os.CreateTemp(filepath.Join(d.root, tmpDir), "blob-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Open implements Backend.
func (d *DiskBackend) Open(_ context.Context, id ID) (io.ReadCloser, error) {
	f, err := os.Open(d.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("blob %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}
