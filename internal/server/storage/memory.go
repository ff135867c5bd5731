package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dmitrijs2005/passvault/internal/common"
)

// MemoryBackend is a process-local backend used by tests and the "memory"
// storage option.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(ctx context.Context, name string) ([]byte, error) {
	key, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, common.ErrNotFound)
	}
	return bytes.Clone(v), nil
}

func (b *MemoryBackend) Put(ctx context.Context, name string, data []byte) error {
	key, err := cleanName(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = bytes.Clone(data)
	return nil
}

func (b *MemoryBackend) List(ctx context.Context, dir string) ([]string, error) {
	d, err := cleanDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := d + "/"
	if d == "" {
		prefix = ""
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	names := []string{}
	for k := range b.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

func (b *MemoryBackend) Close() error { return nil }
