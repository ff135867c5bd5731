// Package cryptox implements the passvault crypto engine: per-user key
// derivation, authenticated encryption of secrets into self-contained tokens,
// bcrypt password verifiers and strong password generation.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/dmitrijs2005/passvault/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	KeySize   = 32 // AES-256
	NonceSize = 12 // GCM nonce
	TagSize   = 16 // GCM tag
	saltSize  = 16

	saltDomain = "passvault/v1"

	DefaultArgonTime    = 2
	DefaultArgonMemory  = 19 * 1024 // KiB
	DefaultArgonThreads = 1

	DefaultPasswordLength = 16
)

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
	"!@#$%^&*()-_=+[]{}|;:,.<>?/`~"

var tokenEncoding = base64.RawURLEncoding

// KeyDeriver derives the symmetric key that binds vault ciphertext to a user.
//
// The derivation is deterministic: argon2id over the full username, salted
// with SHA-256(domain ‖ pepper ‖ username). The pepper is a server-wide secret;
// changing it makes every stored secret undecryptable.
type KeyDeriver struct {
	Pepper  []byte
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// NewKeyDeriver returns a KeyDeriver with the default argon2id cost.
func NewKeyDeriver(pepper []byte) *KeyDeriver {
	return &KeyDeriver{
		Pepper:  pepper,
		Time:    DefaultArgonTime,
		Memory:  DefaultArgonMemory,
		Threads: DefaultArgonThreads,
	}
}

// DeriveKey returns the 32-byte key for username.
func (k *KeyDeriver) DeriveKey(username string) []byte {
	return argon2.IDKey([]byte(username), k.salt(username), k.Time, k.Memory, k.Threads, KeySize)
}

func (k *KeyDeriver) salt(username string) []byte {
	h := sha256.New()
	h.Write([]byte(saltDomain))
	h.Write(k.Pepper)
	h.Write([]byte(username))
	return h.Sum(nil)[:saltSize]
}

// Seal encrypts plaintext with AES-256-GCM and returns a printable token
// holding nonce ‖ ciphertext ‖ tag.
func Seal(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return tokenEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any failure (bad encoding, truncated token, wrong key,
// tampering) is reported as common.ErrCryptoFailure.
func Open(token string, key []byte) ([]byte, error) {
	data, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", common.ErrCryptoFailure)
	}
	if len(data) < NonceSize+TagSize {
		return nil, fmt.Errorf("token too short: %w", common.ErrCryptoFailure)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, common.ErrCryptoFailure)
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, common.ErrCryptoFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// HashVerifier returns a bcrypt hash of password suitable for storing as an
// account verifier (before encryption).
func HashVerifier(password string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("password longer than 72 bytes: %w", common.ErrValidation)
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return hash, nil
}

// CheckVerifier reports whether password matches the bcrypt hash.
func CheckVerifier(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// GeneratePassword returns a random password of the given length drawn from
// letters, digits and punctuation.
func GeneratePassword(length int) (string, error) {
	if length <= 0 {
		length = DefaultPasswordLength
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// Wipe overwrites b with zeros. Nil is allowed.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
