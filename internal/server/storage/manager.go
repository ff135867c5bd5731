package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/passvault/internal/common"
)

const (
	KindFS     = "fs"
	KindBolt   = "bolt"
	KindS3     = "s3"
	KindMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Kind     string
	DataDir  string
	BoltPath string
	S3       S3Options
}

// New opens the backend named by opts.Kind.
func New(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case KindFS, "":
		return NewFSBackend(opts.DataDir)
	case KindBolt:
		return NewBoltBackend(opts.BoltPath)
	case KindS3:
		return NewS3Backend(ctx, opts.S3)
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", common.ErrValidation, opts.Kind)
	}
}
