// Package common defines the error taxonomy shared by every passvault layer.
// Callers wrap these sentinels with fmt.Errorf("...: %w") and match them with
// errors.Is at the command boundary.
package common

import "errors"

var (
	// Protocol-level errors (unrecognized command, malformed wire message).
	ErrProtocol = errors.New("protocol error")

	// Session-level errors.
	ErrAuthRequired  = errors.New("authentication required")
	ErrAlreadyLogged = errors.New("already authenticated")
	ErrUnauthorized  = errors.New("invalid username or password")

	// Validation errors: wrong arity, invalid category, password confirmation mismatch.
	ErrValidation = errors.New("validation error")

	// Repository-level errors.
	ErrNotFound         = errors.New("not found")
	ErrEmptyVault       = errors.New("no entries")
	ErrConflict         = errors.New("conflict")
	ErrStorageCorrupted = errors.New("storage corrupted")
	ErrIO               = errors.New("i/o failure")

	// Crypto errors (wrong key, tampered or malformed ciphertext).
	ErrCryptoFailure = errors.New("decryption failed")

	// External collaborator errors (network, timeout, missing credential, rate limit).
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// Kind returns a short, stable name of the taxonomy member err belongs to.
// It is used as a log attribute so that, for example, corruption and absence
// stay distinguishable in logs even when both render as similar user text.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrAlreadyLogged):
		return "auth_required"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrStorageCorrupted):
		return "storage_corrupted"
	case errors.Is(err, ErrEmptyVault):
		return "empty"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrCryptoFailure):
		return "crypto_failure"
	case errors.Is(err, ErrDependencyUnavailable):
		return "dependency_unavailable"
	case errors.Is(err, ErrIO):
		return "io_failure"
	default:
		return "internal"
	}
}
