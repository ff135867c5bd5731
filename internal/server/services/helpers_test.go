package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/passvault/internal/cryptox"
	"github.com/dmitrijs2005/passvault/internal/logging"
	"github.com/dmitrijs2005/passvault/internal/server/locks"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/vaults"
	"github.com/dmitrijs2005/passvault/internal/server/storage"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ctxStrictBackend fails any call made with a cancelled context, so tests can
// prove writes are detached from the caller.
type ctxStrictBackend struct {
	storage.Backend
}

func (b ctxStrictBackend) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Backend.Get(ctx, name)
}

func (b ctxStrictBackend) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Backend.Put(ctx, name, data)
}

func testKeys() *cryptox.KeyDeriver {
	return &cryptox.KeyDeriver{Pepper: []byte("test-pepper"), Time: 1, Memory: 1024, Threads: 1}
}

type fixture struct {
	backend storage.Backend
	vaults  *VaultService
	users   *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := ctxStrictBackend{Backend: storage.NewMemoryBackend()}
	lt := locks.New()
	keys := testKeys()
	log := logging.Nop()

	vs := NewVaultService(vaults.NewStorageRepository(backend), lt, keys, log)
	us, err := NewUserService(accounts.NewStorageRepository(backend), vs, lt, keys, bcrypt.MinCost, log)
	require.NoError(t, err)

	return &fixture{backend: backend, vaults: vs, users: us}
}
