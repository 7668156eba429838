// Package crypto encrypts Provider API keys at rest with
// golang.org/x/crypto/nacl/secretbox, per SPEC_FULL.md §4.8. The
// plaintext key is held only transiently in memory while a request is
// in flight (internal/providerset) and is never itself persisted.
package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required length of the master encryption key.
const KeySize = 32

// NonceSize is the length secretbox expects for a nonce.
const NonceSize = 24

// MasterKey wraps the 32-byte secret configured via the environment
// (SPEC_FULL.md §6 "Environment inputs"); NewMasterKey validates its
// length so a misconfigured deployment fails at startup, not on first
// encrypt.
type MasterKey struct {
	key [KeySize]byte
}

// NewMasterKey validates raw is exactly KeySize bytes and wraps it.
func NewMasterKey(raw []byte) (*MasterKey, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("encryption master key must be %d bytes, got %d", KeySize, len(raw))
	}
	var k MasterKey
	copy(k.key[:], raw)
	return &k, nil
}

// Encrypt seals plaintext under a freshly generated random nonce,
// returning the ciphertext and the nonce to store alongside it (the
// providers table's api_key_nonce column).
func (k *MasterKey) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	var n [NonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, plaintext, &n, &k.key)
	return sealed, n[:], nil
}

// Decrypt opens ciphertext using the given nonce. A corrupted
// ciphertext, a wrong master key, or a mismatched nonce all surface as
// the same "message authentication failed" error — secretbox does not
// distinguish them, and neither does this wrapper.
func (k *MasterKey) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	var n [NonceSize]byte
	copy(n[:], nonce)

	plaintext, ok := secretbox.Open(nil, ciphertext, &n, &k.key)
	if !ok {
		return nil, fmt.Errorf("decrypt provider api key: message authentication failed")
	}
	return plaintext, nil
}
