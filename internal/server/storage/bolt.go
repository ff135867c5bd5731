package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/filex"
	bolt "go.etcd.io/bbolt"
)

var resourcesBucket = []byte("resources")

// BoltBackend keeps resources in a single bbolt bucket keyed by full name.
type BoltBackend struct {
	db *bolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIO, err)
	}

	db, err := bolt.Open(path, filex.FilePerm, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt %s: %v", common.ErrIO, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resourcesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create bucket: %v", common.ErrIO, err)
	}

	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Get(ctx context.Context, name string) ([]byte, error) {
	key, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(resourcesBucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%s: %w", name, common.ErrNotFound)
		}
		// bolt memory is only valid inside the transaction
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

func (b *BoltBackend) Put(ctx context.Context, name string, data []byte) error {
	key, err := cleanName(name)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resourcesBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", common.ErrIO, name, err)
	}
	return nil
}

func (b *BoltBackend) List(ctx context.Context, dir string) ([]string, error) {
	d, err := cleanDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := []byte(d + "/")
	if d == "" {
		prefix = nil
	}

	names := []string{}
	err = b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(resourcesBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			rest := string(k[len(prefix):])
			if rest == "" || strings.Contains(rest, "/") {
				continue
			}
			names = append(names, rest)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", common.ErrIO, dir, err)
	}
	sort.Strings(names)
	return names, nil
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
