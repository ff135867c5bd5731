package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/filex"
)

// FSBackend keeps every resource as a file under Root.
type FSBackend struct {
	Root string
}

func NewFSBackend(root string) (*FSBackend, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}
	return &FSBackend{Root: abs}, nil
}

func (b *FSBackend) path(name string) (string, error) {
	c, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.Root, filepath.FromSlash(c)), nil
}

func (b *FSBackend) Get(ctx context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", common.ErrIO, name, err)
	}
	return data, nil
}

func (b *FSBackend) Put(ctx context.Context, name string, data []byte) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	if err := filex.WriteAtomic(p, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", common.ErrIO, name, err)
	}
	return nil
}

func (b *FSBackend) List(ctx context.Context, dir string) ([]string, error) {
	d, err := cleanDir(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(b.Root, filepath.FromSlash(d)))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", common.ErrIO, dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		// skip subdirectories and in-flight temp files
		if e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (b *FSBackend) Close() error { return nil }
