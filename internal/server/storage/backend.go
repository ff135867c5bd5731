// Package storage persists named byte resources ("accounts/accounts.json",
// "account_vaults/alice/work.json") on a pluggable backend. Backends know
// nothing about vaults or encryption; the repositories above them do.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dmitrijs2005/passvault/internal/common"
)

// Backend stores whole resources addressed by slash-separated names.
type Backend interface {
	// Get returns the resource content or common.ErrNotFound when absent.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces the resource content atomically.
	Put(ctx context.Context, name string, data []byte) error
	// List returns the base names of resources stored directly under dir,
	// sorted. A missing dir yields an empty list.
	List(ctx context.Context, dir string) ([]string, error)
	Close() error
}

// cleanName rejects names that could escape the backend root.
func cleanName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: bad resource name %q", common.ErrValidation, name)
	}
	c := path.Clean(name)
	if c != name || c == "." || strings.HasPrefix(c, "../") || c == ".." {
		return "", fmt.Errorf("%w: bad resource name %q", common.ErrValidation, name)
	}
	return c, nil
}

func cleanDir(dir string) (string, error) {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return "", nil
	}
	return cleanName(dir)
}
