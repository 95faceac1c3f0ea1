package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	SecretPrefix = "whsec_"
	KeyPrefix    = "hr_"
	Alphabet     = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// GenerateSecret creates a random signing secret for a new destination.
func GenerateSecret() (string, error) {
	id, err := gonanoid.Generate(Alphabet, 32)
	if err != nil {
		return "", err
	}
	return SecretPrefix + id, nil
}

// GenerateKey creates a random admin API key.
func GenerateKey() (string, error) {
	id, err := gonanoid.Generate(Alphabet, 32)
	if err != nil {
		return "", err
	}
	return KeyPrefix + id, nil
}

// HashKey returns a SHA-256 hash of the provided key.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

// KeysEqual compares two keys in constant time.
func KeysEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(a)), []byte(HashKey(b))) == 1
}
