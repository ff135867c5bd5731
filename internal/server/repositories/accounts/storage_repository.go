package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

func (r *StorageRepository) Load(ctx context.Context) (models.Accounts, error) {
	data, err := r.backend.Get(ctx, common.AccountsResource)
	if errors.Is(err, common.ErrNotFound) {
		return models.Accounts{}, nil
	}
	if err != nil {
		return nil, err
	}

	var accounts models.Accounts
	if err := json.Unmarshal(data, &accounts); err != nil || accounts == nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrStorageCorrupted, common.AccountsResource, err)
	}
	return accounts, nil
}

func (r *StorageRepository) Save(ctx context.Context, accounts models.Accounts) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	return r.backend.Put(ctx, common.AccountsResource, data)
}
