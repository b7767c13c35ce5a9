package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	pubKeyFile  = "pub.hex"
	privKeyFile = "priv.hex"
)

func SaveKeypair(dir string, pub PublicKey, priv PrivateKey) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, pubKeyFile), []byte(hex.EncodeToString(pub[:])), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, privKeyFile), []byte(hex.EncodeToString(priv[:])), 0600)
}

// LoadKeypair returns an error satisfying os.IsNotExist when no keypair has
// been saved in dir yet.
func LoadKeypair(dir string) (PublicKey, PrivateKey, error) {
	privHex, err := os.ReadFile(filepath.Join(dir, privKeyFile))
	if err != nil {
		return PublicKey{}, PrivateKey{}, err
	}
	var priv PrivateKey
	if err := decodeKeyHex(privHex, priv[:]); err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("bad %s: %w", privKeyFile, err)
	}
	pub, err := PublicKeyFor(priv)
	if err != nil {
		return PublicKey{}, PrivateKey{}, err
	}
	pubHex, err := os.ReadFile(filepath.Join(dir, pubKeyFile))
	if err == nil {
		var stored PublicKey
		if err := decodeKeyHex(pubHex, stored[:]); err != nil {
			return PublicKey{}, PrivateKey{}, fmt.Errorf("bad %s: %w", pubKeyFile, err)
		}
		if stored != pub {
			return PublicKey{}, PrivateKey{}, errors.New("pub.hex does not match priv.hex")
		}
	} else if !os.IsNotExist(err) {
		return PublicKey{}, PrivateKey{}, err
	}
	return pub, priv, nil
}

func LoadOrCreateKeypair(dir string) (PublicKey, PrivateKey, bool, error) {
	pub, priv, err := LoadKeypair(dir)
	if err == nil {
		return pub, priv, false, nil
	}
	if !os.IsNotExist(err) {
		return PublicKey{}, PrivateKey{}, false, err
	}
	pub, priv, err = GenerateKeypair()
	if err != nil {
		return PublicKey{}, PrivateKey{}, false, err
	}
	if err := SaveKeypair(dir, pub, priv); err != nil {
		return PublicKey{}, PrivateKey{}, false, err
	}
	return pub, priv, true, nil
}

func decodeKeyHex(raw []byte, dst []byte) error {
	b, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("bad key size: need %d", len(dst))
	}
	copy(dst, b)
	return nil
}
