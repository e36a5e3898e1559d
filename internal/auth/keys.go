package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix marks values issued by GenerateAPIKey so leaked keys are
// recognizable in scanners and logs.
const KeyPrefix = "sk_"

const bcryptCost = 10

var ErrKeyMismatch = errors.New("auth: api key mismatch")

// GenerateAPIKey returns a new plaintext API key. The plaintext is shown
// to the caller exactly once; only the hash is stored.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey derives the storable bcrypt hash of a plaintext key.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash api key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey compares a presented plaintext key against a stored hash.
func VerifyAPIKey(hash, key string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrKeyMismatch
	}
	return nil
}
