package vaults

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/server/models"
	"github.com/dmitrijs2005/passvault/internal/server/storage"
)

type StorageRepository struct {
	backend storage.Backend
}

func NewStorageRepository(backend storage.Backend) *StorageRepository {
	return &StorageRepository{backend: backend}
}

func (r *StorageRepository) Load(ctx context.Context, user string, category models.Category) (*models.Vault, error) {
	name := ResourceName(user, category)
	data, err := r.backend.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	v := models.NewVault()
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrStorageCorrupted, name, err)
	}
	return v, nil
}

func (r *StorageRepository) Save(ctx context.Context, user string, category models.Category, vault *models.Vault) error {
	data, err := json.Marshal(vault)
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	return r.backend.Put(ctx, ResourceName(user, category), data)
}

func (r *StorageRepository) Categories(ctx context.Context, user string) ([]models.Category, error) {
	names, err := r.backend.List(ctx, userDir(user))
	if err != nil {
		return nil, err
	}

	present := make(map[models.Category]bool, len(names))
	for _, n := range names {
		if !strings.HasSuffix(n, common.VaultExt) {
			continue
		}
		c, err := models.ParseCategory(strings.TrimSuffix(n, common.VaultExt))
		if err != nil {
			continue
		}
		present[c] = true
	}

	// report in the canonical category order
	out := []models.Category{}
	for _, c := range models.Categories {
		if present[c] {
			out = append(out, c)
		}
	}
	return out, nil
}
