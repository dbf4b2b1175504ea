package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SecretBytes is the entropy of single-use secrets.
const SecretBytes = 32

// RandomToken returns a hex encoded secret of SecretBytes random bytes along
// with its storage hash.
func RandomToken() (secret string, hash string, err error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate random token: %w", err)
	}

	secret = hex.EncodeToString(buf)
	return secret, HashToken(secret), nil
}

// HashToken is the one-way digest stored in place of a secret.
func HashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
