package client

import (
	"context"

	"github.com/dmitrijs2005/passvault/internal/server/protocol"
)

type Client interface {
	Do(ctx context.Context, commandType string, params ...string) (protocol.Response, error)
	Close() error
}
