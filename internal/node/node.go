package node

import (
	"encoding/hex"
	"errors"

	"pulsar/internal/crypto"
	"pulsar/internal/proto"
)

// Identity is fixed for the lifetime of a running node.
type Identity struct {
	PrivateKey crypto.PrivateKey
	PublicKey  crypto.PublicKey
	Route      proto.Route
}

var ErrBadRoute = errors.New("route must be non-zero")

func NewIdentity(route proto.Route) (Identity, error) {
	if !route.Valid() {
		return Identity{}, ErrBadRoute
	}
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return Identity{}, err
	}
	return Identity{PrivateKey: priv, PublicKey: pub, Route: route}, nil
}

// LoadIdentity reads the keypair kept in dir, creating it on first use.
func LoadIdentity(dir string, route proto.Route) (Identity, bool, error) {
	if !route.Valid() {
		return Identity{}, false, ErrBadRoute
	}
	pub, priv, created, err := crypto.LoadOrCreateKeypair(dir)
	if err != nil {
		return Identity{}, false, err
	}
	return Identity{PrivateKey: priv, PublicKey: pub, Route: route}, created, nil
}

func (id Identity) SharedKey(peerPub crypto.PublicKey) (crypto.SharedKey, error) {
	return crypto.DeriveSharedKey(id.PrivateKey, peerPub)
}

// NodeID is a stable, printable fingerprint of the public key.
func (id Identity) NodeID() string {
	sum := DeriveNodeID(id.PublicKey)
	return hex.EncodeToString(sum[:])
}

func DeriveNodeID(pub crypto.PublicKey) [32]byte {
	var out [32]byte
	copy(out[:], crypto.KDF("pulsar:nodeid:v1", pub[:]))
	return out
}
