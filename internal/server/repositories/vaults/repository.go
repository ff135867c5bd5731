// Package vaults persists one resource per (user, category) vault.
package vaults

import (
	"context"
	"path"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/server/models"
)

type Repository interface {
	// Load returns common.ErrNotFound when the vault was never created and
	// common.ErrStorageCorrupted when its content is not a vault.
	Load(ctx context.Context, user string, category models.Category) (*models.Vault, error)
	Save(ctx context.Context, user string, category models.Category, vault *models.Vault) error
	// Categories lists the categories the user has a persisted vault for.
	Categories(ctx context.Context, user string) ([]models.Category, error)
}

// ResourceName is the storage name of a vault; it doubles as its lock key.
func ResourceName(user string, category models.Category) string {
	return path.Join(common.VaultsDir, user, string(category)+common.VaultExt)
}

func userDir(user string) string {
	return path.Join(common.VaultsDir, user)
}
