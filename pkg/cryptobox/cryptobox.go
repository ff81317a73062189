// Package cryptobox encrypts OAuth access tokens at rest before they're
// written to the oauth_integrations table.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltPrefix = "torale-oauth-salt-"
	nonceSize  = 12
	keySize    = 32
	iterations = 100000
)

// Box encrypts and decrypts OAuth tokens with a key derived from the
// configured oauth_encryption_key.
type Box struct {
	key []byte
}

// New derives an AES-256 key from the given passphrase.
func New(passphrase string) (*Box, error) {
	if passphrase == "" {
		return nil, errors.New("oauth encryption key cannot be empty")
	}

	salt := sha256.Sum256([]byte(saltPrefix + passphrase))
	key := pbkdf2.Key([]byte(passphrase), salt[:], iterations, keySize, sha256.New)

	return &Box{key: key}, nil
}

// Encrypt returns the base64-encoded nonce||ciphertext for storage in
// oauth_integrations.access_token.
func (b *Box) Encrypt(token string) (string, error) {
	if token == "" {
		return "", errors.New("token cannot be empty")
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(token), nil)

	combined := make([]byte, len(nonce)+len(ciphertext))
	copy(combined, nonce)
	copy(combined[len(nonce):], ciphertext)

	return base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", errors.New("encrypted token cannot be empty")
	}

	combined, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create gcm: %w", err)
	}

	if len(combined) < gcm.NonceSize() {
		return "", errors.New("encrypted token too short")
	}

	nonce := combined[:gcm.NonceSize()]
	ciphertext := combined[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt token: %w", err)
	}

	return string(plaintext), nil
}
