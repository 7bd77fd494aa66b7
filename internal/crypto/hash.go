// Package crypto provides key derivation and encryption of tokens at rest.
package crypto

import (
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters. N=16384 (2^14), r=8, p=1 are the recommended
// interactive values; the key is derived once at startup.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// keySalt separates derived token keys from any other use of the secret.
const keySalt = "widget-token-encryption"

// DeriveKey stretches a configured secret into a 32-byte AES-256 key.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	dk, err := scrypt.Key([]byte(secret), []byte(keySalt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return dk, nil
}
