package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor seals values before they reach durable storage.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// AESGCMEncryptor implements Encryptor using AES-256-GCM.
type AESGCMEncryptor struct {
	aead cipher.AEAD
}

// ErrUnknownVersion is returned by Decrypt for values not produced by Encrypt.
var ErrUnknownVersion = errors.New("unknown ciphertext version")

// Versioned prefix to allow future key/algorithm rotations without data migrations.
const cipherPrefixV1 = "v1:"

// NewAESGCMEncryptor constructs a new AESGCMEncryptor. Key must be 32 bytes (AES-256).
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESGCMEncryptor{aead: aead}, nil
}

// NewFromPassphrase builds an encryptor from a configured key. A 64 character hex string
// is used as the raw key; anything else is hashed with SHA-256.
func NewFromPassphrase(key string) (*AESGCMEncryptor, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("encryption key is required")
	}
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		return NewAESGCMEncryptor(decoded)
	}
	sum := sha256.Sum256([]byte(key))
	return NewAESGCMEncryptor(sum[:])
}

// Encrypt encrypts plaintext with a random nonce and returns a versioned base64 string.
func (e *AESGCMEncryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	// nonce||ciphertext
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return cipherPrefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decrypts a versioned base64 string created by Encrypt.
func (e *AESGCMEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	b64, ok := strings.CutPrefix(ciphertext, cipherPrefixV1)
	if !ok {
		return nil, ErrUnknownVersion
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	pt, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return pt, nil
}
