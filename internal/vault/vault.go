// Package vault seals small session payloads with XChaCha20-Poly1305 under
// the process ENCRYPTION_KEY.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/joelkehle/cancer-navigator/internal/apperr"
)

var ErrOpen = errors.New("vault: message authentication failed")

type Sealer struct {
	aead cipher.AEAD
}

// NewSealer accepts a url-safe base64 key that decodes to 32 bytes, padded
// or not (a Fernet key has the same shape).
func NewSealer(encoded string) (*Sealer, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, apperr.ConfigurationMissing("ENCRYPTION_KEY is not set")
	}
	key, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, apperr.ConfigurationMissing("ENCRYPTION_KEY is not valid url-safe base64")
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, apperr.ConfigurationMissing(fmt.Sprintf("ENCRYPTION_KEY must decode to %d bytes, got %d", chacha20poly1305.KeySize, len(key)))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext. ad binds the payload to its owner, for
// example a session ID.
func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, ad), nil
}

func (s *Sealer) Open(sealed, ad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, ErrOpen
	}
	out, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], ad)
	if err != nil {
		return nil, ErrOpen
	}
	return out, nil
}

// GenerateKey returns a fresh key in the format NewSealer accepts.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
