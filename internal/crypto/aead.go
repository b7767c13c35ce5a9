package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	NonceSize = chacha20poly1305.NonceSize // 12
	Overhead  = NonceSize + chacha20poly1305.Overhead
)

// ErrDecrypt covers wrong key, tampering and truncation alike so callers
// cannot tell them apart.
var ErrDecrypt = errors.New("decrypt failed")

// Seal returns nonce || ciphertext || tag under a fresh random nonce.
func Seal(key SharedKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

func Open(key SharedKey, sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, ErrDecrypt
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, ErrDecrypt
	}
	plain, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
