// Package crypto seals OAuth credentials at rest with AES-256-GCM.
//
// Sealed values are nonce || ciphertext || tag; the string helpers base64 them
// for text columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Encryptor is authenticated encryption for small secrets.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

// ErrAuth is returned when a sealed value fails authentication.
var ErrAuth = errors.New("decryption failed: authentication or integrity check failed")

// AESEncryptor is an Encryptor backed by a single AES-256 key.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor builds an encryptor from a base64 32-byte key
// (generate with `openssl rand -base64 32`).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, errors.New("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: aead}, nil
}

func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, errors.New("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESEncryptor) Decrypt(sealed []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(sealed) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(sealed))
	}
	plaintext, err := e.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrAuth
	}
	return plaintext, nil
}

// EncryptString seals s and returns base64. The empty string stays empty.
func EncryptString(enc Encryptor, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	sealed, err := enc.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func DecryptString(enc Encryptor, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	sealed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	plaintext, err := enc.Decrypt(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
