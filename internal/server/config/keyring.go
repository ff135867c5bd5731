package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// resolveSecretKey reads the pepper from the OS keyring when none was
// configured and a keyring account is named.
func resolveSecretKey(c *Config) error {
	if c.SecretKey != "" || c.KeyringUser == "" {
		return nil
	}
	secret, err := keyring.Get(c.KeyringService, c.KeyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("no secret key in keyring %s for %s", c.KeyringService, c.KeyringUser)
	}
	if err != nil {
		return fmt.Errorf("read secret key from keyring: %w", err)
	}
	c.SecretKey = secret
	return nil
}
