// Package local implements the backend contract on a local filesystem.
// The directory layout matches the object-store layout exactly, so a
// bucket synced to disk can be queried without changes.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/grafana/traceql-engine/tempodb/backend"
)

type Config struct {
	Path string `yaml:"path"`
}

type Backend struct {
	cfg *Config
}

var _ backend.Reader = (*Backend)(nil)

func New(cfg *Config) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local backend requires a path")
	}
	return &Backend{cfg: cfg}, nil
}

func (b *Backend) Read(_ context.Context, name string) ([]byte, error) {
	bytes, err := os.ReadFile(b.objectPath(name))
	if os.IsNotExist(err) {
		return nil, backend.ErrDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return bytes, nil
}

func (b *Backend) ReadRange(_ context.Context, name string, offset int64, buf []byte) error {
	f, err := os.Open(b.objectPath(name))
	if os.IsNotExist(err) {
		return backend.ErrDoesNotExist
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.ReadAt(buf, offset); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("reading %s range at %d: %w", name, offset, err)
	}
	return nil
}

func (b *Backend) List(_ context.Context, prefix string) ([]backend.ObjectInfo, error) {
	root := b.cfg.Path

	var objects []backend.ObjectInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, backend.ObjectInfo{Name: name, Size: info.Size()})
		return nil
	})
	if os.IsNotExist(err) {
		return nil, backend.ErrDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}

	return objects, nil
}

func (b *Backend) Shutdown() {}

func (b *Backend) objectPath(name string) string {
	return filepath.Join(b.cfg.Path, filepath.FromSlash(name))
}
