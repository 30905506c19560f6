package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealerInfo = "llmur secret sealing v1"

// ErrSealedValue indicates a stored value that cannot be opened.
var ErrSealedValue = errors.New("security: invalid sealed value")

// Sealer encrypts secrets at rest with an AEAD key derived from the application secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from appSecret.
func NewSealer(appSecret string) (*Sealer, error) {
	if appSecret == "" {
		return nil, fmt.Errorf("security: empty application secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(appSecret), nil, []byte(sealerInfo)), key); err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("security: init aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns a base64 string holding nonce and ciphertext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil {
		return plaintext, nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if s == nil {
		return sealed, nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrSealedValue
	}
	if len(raw) < s.aead.NonceSize() {
		return "", ErrSealedValue
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrSealedValue
	}
	return string(plain), nil
}
