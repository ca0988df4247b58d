package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyEnv overrides the key file when set to 64 hex characters.
const KeyEnv = "CRASHLOG_UPLOAD_KEY"

var ErrShortCiphertext = errors.New("ciphertext too short")

// Cipher seals upload payloads with XChaCha20-Poly1305.
type Cipher struct {
	key []byte
}

// NewCipher wraps a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Cipher{key: append([]byte(nil), key...)}, nil
}

// LoadOrCreateKey reads the key from the environment or keyPath, generating
// and saving a new one when neither holds a valid key.
// Returns created=true if a new key was generated.
func LoadOrCreateKey(keyPath string) (c *Cipher, created bool, err error) {
	// 1. Environment
	if envKey := os.Getenv(KeyEnv); envKey != "" {
		key, err := hex.DecodeString(envKey)
		if err == nil && len(key) == chacha20poly1305.KeySize {
			c, err := NewCipher(key)
			return c, false, err
		}
	}

	// 2. Key file
	if data, err := os.ReadFile(keyPath); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err == nil && len(key) == chacha20poly1305.KeySize {
			c, err := NewCipher(key)
			return c, false, err
		}
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to read key file: %w", err)
	}

	// 3. Generate
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random key: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("failed to save key to %s: %w", keyPath, err)
	}

	c, err = NewCipher(key)
	return c, true, err
}

// Seal encrypts plaintext and returns Nonce + Ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (c *Cipher) Open(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, err
	}

	nonceSize := aead.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrShortCiphertext
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return aead.Open(nil, nonce, ciphertext, nil)
}
