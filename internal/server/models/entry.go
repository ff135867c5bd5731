package models

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/passvault/internal/common"
)

// Entry is one stored credential. Password holds ciphertext, never plaintext.
type Entry struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Field selects which part of an entry a read returns.
type Field string

const (
	FieldSubject Field = "subject"
	FieldSecret  Field = "secret"
	FieldBoth    Field = "both"
)

// ParseField accepts subject/secret/both plus the aliases user and password.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subject", "user", "username":
		return FieldSubject, nil
	case "secret", "password":
		return FieldSecret, nil
	case "both":
		return FieldBoth, nil
	}
	return "", fmt.Errorf("%w: invalid field %q, expected subject, secret or both", common.ErrValidation, s)
}

// Credential is a decrypted view of an entry returned to the caller.
type Credential struct {
	Subject string
	Secret  string
}
