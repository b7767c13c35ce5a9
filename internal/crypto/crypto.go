// internal/crypto/crypto.go
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

// -----------------------------------------------------------------------------
// pulsar crypto suite
//
// - X25519 static keys, one keypair per node
// - shared key = SHA3-256(label || X25519(priv, peerPub))
// - ChaCha20-Poly1305 for every DATA datagram (see aead.go)
// -----------------------------------------------------------------------------

const (
	KeySize       = curve25519.ScalarSize // 32
	SharedKeySize = 32

	labelSharedKey = "pulsar:shared:v1"
)

type PrivateKey [KeySize]byte

type PublicKey [KeySize]byte

type SharedKey [SharedKeySize]byte

var ErrLowOrderKey = errors.New("low order public key")

// String keeps key material out of logs.
func (k PrivateKey) String() string {
	return "PrivateKey{REDACTED}"
}

func (k SharedKey) String() string {
	return "SharedKey{REDACTED}"
}

func (k PublicKey) String() string {
	return fmt.Sprintf("%x", k[:4])
}

// -----------------------------------------------------------------------------
// SHA-3
// -----------------------------------------------------------------------------

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

func KDF(label string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(label))
	buf = append(buf, []byte(label)...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return SHA3_256(buf)
}

// -----------------------------------------------------------------------------
// X25519
// -----------------------------------------------------------------------------

func GenerateKeypair() (PublicKey, PrivateKey, error) {
	var priv PrivateKey
	if _, err := rand.Read(priv[:]); err != nil {
		return PublicKey{}, PrivateKey{}, err
	}
	pub, err := PublicKeyFor(priv)
	if err != nil {
		return PublicKey{}, PrivateKey{}, err
	}
	return pub, priv, nil
}

func PublicKeyFor(priv PrivateKey) (PublicKey, error) {
	out, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, err
	}
	var pub PublicKey
	copy(pub[:], out)
	return pub, nil
}

// DeriveSharedKey is symmetric: DeriveSharedKey(a.priv, b.pub) equals
// DeriveSharedKey(b.priv, a.pub). Public keys of low order are rejected since
// they pin the ECDH output to zero regardless of the private key.
func DeriveSharedKey(priv PrivateKey, peerPub PublicKey) (SharedKey, error) {
	ss, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return SharedKey{}, fmt.Errorf("%w: %v", ErrLowOrderKey, err)
	}
	var key SharedKey
	copy(key[:], KDF(labelSharedKey, ss))
	for i := range ss {
		ss[i] = 0
	}
	return key, nil
}
