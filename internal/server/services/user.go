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
	"github.com/dmitrijs2005/passvault/internal/server/repositories/accounts"
)

// UserService registers accounts and checks login passwords.
type UserService struct {
	repo       accounts.Repository
	vaults     *VaultService
	locks      *locks.Table
	keys       *cryptox.KeyDeriver
	bcryptCost int
	log        logging.Logger

	// compared against when the account is missing so unknown users cost
	// the same as wrong passwords
	dummyHash []byte
}

func NewUserService(repo accounts.Repository, vs *VaultService, lt *locks.Table, keys *cryptox.KeyDeriver, bcryptCost int, log logging.Logger) (*UserService, error) {
	dummy, err := cryptox.HashVerifier("passvault-dummy", bcryptCost)
	if err != nil {
		return nil, err
	}
	return &UserService{
		repo:       repo,
		vaults:     vs,
		locks:      lt,
		keys:       keys,
		bcryptCost: bcryptCost,
		log:        log.With("module", "users"),
		dummyHash:  dummy,
	}, nil
}

// RegisterAccount stores an encrypted verifier for a new user and creates the
// user's default vault. An existing username is a common.ErrConflict. Once the
// account is stored a failure to create the vault is only logged.
func (s *UserService) RegisterAccount(ctx context.Context, user, password string) error {
	if err := models.ValidateUsername(user); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: password must not be empty", common.ErrValidation)
	}

	// cheap pre-check so a taken name does not pay for bcrypt
	existing, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	if _, ok := existing[user]; ok {
		return fmt.Errorf("%w: user %q already exists", common.ErrConflict, user)
	}

	hash, err := cryptox.HashVerifier(password, s.bcryptCost)
	if err != nil {
		return err
	}
	key := s.keys.DeriveKey(user)
	token, err := cryptox.Seal(hash, key)
	cryptox.Wipe(key)
	if err != nil {
		return err
	}

	wctx := context.WithoutCancel(ctx)
	err = s.locks.With(common.AccountsResource, func() error {
		all, err := s.repo.Load(wctx)
		if err != nil {
			return err
		}
		if _, ok := all[user]; ok {
			return fmt.Errorf("%w: user %q already exists", common.ErrConflict, user)
		}
		all[user] = models.Account{Verifier: token}
		return s.repo.Save(wctx, all)
	})
	if err != nil {
		return err
	}

	// the account is committed; a missing default vault is recreated lazily
	// by the first save
	if err := s.vaults.CreateVault(wctx, user); err != nil {
		s.log.Warn(ctx, "default vault not created", "user", user, "kind", common.Kind(err), "error", err)
	}
	s.log.Info(ctx, "account registered", "user", user)
	return nil
}

// Authenticate checks password against the stored verifier. Unknown users,
// wrong passwords and undecryptable or corrupted verifiers all yield
// common.ErrUnauthorized.
func (s *UserService) Authenticate(ctx context.Context, user, password string) error {
	if err := models.ValidateUsername(user); err != nil {
		cryptox.CheckVerifier(s.dummyHash, password)
		return common.ErrUnauthorized
	}

	all, err := s.repo.Load(ctx)
	if errors.Is(err, common.ErrStorageCorrupted) {
		s.log.Error(ctx, "accounts resource unreadable", "kind", common.Kind(err), "error", err)
		return common.ErrUnauthorized
	}
	if err != nil {
		return err
	}

	acc, ok := all[user]
	if !ok {
		cryptox.CheckVerifier(s.dummyHash, password)
		return common.ErrUnauthorized
	}

	key := s.keys.DeriveKey(user)
	hash, err := cryptox.Open(acc.Verifier, key)
	cryptox.Wipe(key)
	if err != nil {
		s.log.Warn(ctx, "account verifier does not decrypt", "user", user, "kind", common.Kind(err))
		return common.ErrUnauthorized
	}

	if !cryptox.CheckVerifier(hash, password) {
		return common.ErrUnauthorized
	}
	return nil
}
