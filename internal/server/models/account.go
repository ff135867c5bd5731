package models

import (
	"fmt"

	"github.com/dmitrijs2005/passvault/internal/common"
)

// Account is one user's record in the shared accounts resource. Verifier is
// an encrypted bcrypt hash of the login password.
type Account struct {
	Verifier string `json:"password"`
}

// Accounts is the persisted accounts resource, keyed by username.
type Accounts map[string]Account

const maxUsernameLen = 64

// ValidateUsername checks that name is safe to use as a storage path segment.
func ValidateUsername(name string) error {
	if name == "" || len(name) > maxUsernameLen {
		return fmt.Errorf("%w: username must be 1-%d characters", common.ErrValidation, maxUsernameLen)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: invalid username %q", common.ErrValidation, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '@', r == '-':
		default:
			return fmt.Errorf("%w: username may only contain letters, digits and . _ @ -", common.ErrValidation)
		}
	}
	return nil
}
