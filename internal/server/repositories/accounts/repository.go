// Package accounts persists the shared accounts resource.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/passvault/internal/server/models"
)

type Repository interface {
	// Load returns every account. A missing resource yields an empty set.
	Load(ctx context.Context) (models.Accounts, error)
	Save(ctx context.Context, accounts models.Accounts) error
}
