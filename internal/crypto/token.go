// Package crypto seals user-supplied platform API tokens before they are
// persisted.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// KeySize is the required key length (AES-256)
const KeySize = 32

// ErrInvalidKey is returned when the configured key does not decode to
// exactly 32 bytes
var ErrInvalidKey = errors.New("token encryption key must decode to 32 bytes")

// ParseKey decodes a configured key string. Base64 (standard encoding)
// and hex are accepted.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrInvalidKey
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
		}
		return key, nil
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64 or hex", ErrInvalidKey)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(key))
	}
	return key, nil
}

// Sealer encrypts and decrypts platform tokens with AES-256-GCM
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer from a 32-byte key
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts a token and returns base64(nonce || ciphertext)
func (s *Sealer) Seal(token string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(token), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed token: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns {
		return "", errors.New("sealed token too short")
	}
	plain, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting token: %w", err)
	}
	return string(plain), nil
}
