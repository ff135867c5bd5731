package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/dmitrijs2005/passvault/internal/cryptox"
	"github.com/dmitrijs2005/passvault/internal/logging"
	"github.com/dmitrijs2005/passvault/internal/server/locks"
	"github.com/dmitrijs2005/passvault/internal/server/models"
	"github.com/dmitrijs2005/passvault/internal/server/repositories/vaults"
)

type VaultService struct {
	repo  vaults.Repository
	locks *locks.Table
	keys  *cryptox.KeyDeriver
	log   logging.Logger
}

func NewVaultService(repo vaults.Repository, lt *locks.Table, keys *cryptox.KeyDeriver, log logging.Logger) *VaultService {
	return &VaultService{
		repo:  repo,
		locks: lt,
		keys:  keys,
		log:   log.With("module", "vaults"),
	}
}

// CreateVault makes sure the user's default vault exists.
func (s *VaultService) CreateVault(ctx context.Context, user string) error {
	return s.CreateCategoryVault(ctx, user, models.CategoryDefault)
}

// CreateCategoryVault creates an empty vault unless one is already stored.
// Existing contents are never touched.
func (s *VaultService) CreateCategoryVault(ctx context.Context, user string, category models.Category) error {
	if err := validateOwner(user, category); err != nil {
		return err
	}
	wctx := context.WithoutCancel(ctx)
	return s.locks.With(vaults.ResourceName(user, category), func() error {
		_, err := s.repo.Load(wctx, user, category)
		if errors.Is(err, common.ErrNotFound) {
			return s.repo.Save(wctx, user, category, models.NewVault())
		}
		return err
	})
}

// SaveEntry stores subject and an encrypted secret under key, creating the
// vault if needed. An existing key is replaced in place.
func (s *VaultService) SaveEntry(ctx context.Context, user string, category models.Category, key, subject, secret string) error {
	if err := validateOwner(user, category); err != nil {
		return err
	}
	if err := validateEntry(key, secret); err != nil {
		return err
	}

	token, err := s.seal(user, secret)
	if err != nil {
		return err
	}

	wctx := context.WithoutCancel(ctx)
	return s.locks.With(vaults.ResourceName(user, category), func() error {
		v, err := s.repo.Load(wctx, user, category)
		if errors.Is(err, common.ErrNotFound) {
			v, err = models.NewVault(), nil
		}
		if err != nil {
			return err
		}
		v.Upsert(key, models.Entry{Username: subject, Password: token})
		return s.repo.Save(wctx, user, category, v)
	})
}

// GetEntry returns the requested fields of one entry. The secret is only
// decrypted when asked for.
func (s *VaultService) GetEntry(ctx context.Context, user string, category models.Category, key string, field models.Field) (models.Credential, error) {
	if err := validateOwner(user, category); err != nil {
		return models.Credential{}, err
	}
	if key == "" {
		return models.Credential{}, fmt.Errorf("%w: site must not be empty", common.ErrValidation)
	}

	v, err := s.repo.Load(ctx, user, category)
	if err != nil {
		return models.Credential{}, err
	}
	e, ok := v.Get(key)
	if !ok {
		return models.Credential{}, fmt.Errorf("%w: no entry for %q in %s", common.ErrNotFound, key, category)
	}

	var out models.Credential
	if field == models.FieldSubject || field == models.FieldBoth {
		out.Subject = e.Username
	}
	if field == models.FieldSecret || field == models.FieldBoth {
		secret, err := s.open(user, e.Password)
		if err != nil {
			return models.Credential{}, err
		}
		out.Secret = secret
	}
	return out, nil
}

// UpdateEntry replaces the secret of an existing entry whose subject matches.
func (s *VaultService) UpdateEntry(ctx context.Context, user string, category models.Category, key, subject, newSecret string) error {
	if err := validateOwner(user, category); err != nil {
		return err
	}
	if err := validateEntry(key, newSecret); err != nil {
		return err
	}

	token, err := s.seal(user, newSecret)
	if err != nil {
		return err
	}

	wctx := context.WithoutCancel(ctx)
	return s.locks.With(vaults.ResourceName(user, category), func() error {
		v, err := s.repo.Load(wctx, user, category)
		if err != nil {
			return err
		}
		e, ok := v.Get(key)
		if !ok {
			return fmt.Errorf("%w: no entry for %q in %s", common.ErrNotFound, key, category)
		}
		if e.Username != subject {
			return fmt.Errorf("%w: entry %q belongs to a different username", common.ErrConflict, key)
		}
		v.Upsert(key, models.Entry{Username: subject, Password: token})
		return s.repo.Save(wctx, user, category, v)
	})
}

// RemoveEntry deletes key from one vault when both key and subject match.
func (s *VaultService) RemoveEntry(ctx context.Context, user string, category models.Category, key, subject string) error {
	if err := validateOwner(user, category); err != nil {
		return err
	}

	wctx := context.WithoutCancel(ctx)
	return s.locks.With(vaults.ResourceName(user, category), func() error {
		v, err := s.repo.Load(wctx, user, category)
		if err != nil {
			return err
		}
		e, ok := v.Get(key)
		if !ok || e.Username != subject {
			return fmt.Errorf("%w: no matching entry for %q with username %q in %s", common.ErrNotFound, key, subject, category)
		}
		v.Delete(key)
		return s.repo.Save(wctx, user, category, v)
	})
}

// RemoveEntryEverywhere deletes key from every vault of the user and returns
// how many vaults changed. Each vault is locked on its own.
func (s *VaultService) RemoveEntryEverywhere(ctx context.Context, user, key string) (int, error) {
	if err := models.ValidateUsername(user); err != nil {
		return 0, err
	}

	wctx := context.WithoutCancel(ctx)
	categories, err := s.repo.Categories(wctx, user)
	if err != nil {
		return 0, err
	}

	modified := 0
	var firstErr error
	for _, c := range categories {
		err := s.locks.With(vaults.ResourceName(user, c), func() error {
			v, err := s.repo.Load(wctx, user, c)
			if err != nil {
				return err
			}
			if !v.Delete(key) {
				return nil
			}
			if err := s.repo.Save(wctx, user, c, v); err != nil {
				return err
			}
			modified++
			return nil
		})
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			s.log.Warn(ctx, "remove everywhere: skipping vault", "user", user, "category", c, "kind", common.Kind(err), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if modified == 0 {
		if firstErr != nil {
			return 0, firstErr
		}
		return 0, fmt.Errorf("%w: no entry for %q in any vault", common.ErrNotFound, key)
	}
	return modified, nil
}

// ListKeys returns the entry keys of one vault in insertion order.
func (s *VaultService) ListKeys(ctx context.Context, user string, category models.Category) ([]string, error) {
	if err := validateOwner(user, category); err != nil {
		return nil, err
	}
	v, err := s.repo.Load(ctx, user, category)
	if err != nil {
		return nil, err
	}
	if v.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", category, common.ErrEmptyVault)
	}
	return v.Keys(), nil
}

// ListVaults returns the categories the user has stored vaults for.
func (s *VaultService) ListVaults(ctx context.Context, user string) ([]models.Category, error) {
	if err := models.ValidateUsername(user); err != nil {
		return nil, err
	}
	cats, err := s.repo.Categories(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: user %q has no saved vaults", common.ErrNotFound, user)
	}
	return cats, nil
}

func (s *VaultService) seal(user, secret string) (string, error) {
	key := s.keys.DeriveKey(user)
	defer cryptox.Wipe(key)
	return cryptox.Seal([]byte(secret), key)
}

func (s *VaultService) open(user, token string) (string, error) {
	key := s.keys.DeriveKey(user)
	defer cryptox.Wipe(key)
	pt, err := cryptox.Open(token, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func validateOwner(user string, category models.Category) error {
	if err := models.ValidateUsername(user); err != nil {
		return err
	}
	if _, err := models.ParseCategory(string(category)); err != nil {
		return err
	}
	return nil
}

func validateEntry(key, secret string) error {
	if key == "" {
		return fmt.Errorf("%w: site must not be empty", common.ErrValidation)
	}
	if secret == "" {
		return fmt.Errorf("%w: password must not be empty", common.ErrValidation)
	}
	return nil
}
