package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveSharedKeySymmetric(t *testing.T) {
	for i := 0; i < 16; i++ {
		pubA, privA, err := GenerateKeypair()
		require.NoError(t, err)
		pubB, privB, err := GenerateKeypair()
		require.NoError(t, err)

		ab, err := DeriveSharedKey(privA, pubB)
		require.NoError(t, err)
		ba, err := DeriveSharedKey(privB, pubA)
		require.NoError(t, err)
		require.Equal(t, ab, ba)
		require.NotEqual(t, SharedKey{}, ab)
	}
}

func TestDeriveSharedKeyDiffersPerPeer(t *testing.T) {
	_, privA, err := GenerateKeypair()
	require.NoError(t, err)
	pubB, _, err := GenerateKeypair()
	require.NoError(t, err)
	pubC, _, err := GenerateKeypair()
	require.NoError(t, err)

	ab, err := DeriveSharedKey(privA, pubB)
	require.NoError(t, err)
	ac, err := DeriveSharedKey(privA, pubC)
	require.NoError(t, err)
	require.NotEqual(t, ab, ac)
}

func TestDeriveSharedKeyRejectsLowOrder(t *testing.T) {
	_, priv, err := GenerateKeypair()
	require.NoError(t, err)
	_, err = DeriveSharedKey(priv, PublicKey{})
	require.True(t, errors.Is(err, ErrLowOrderKey), "got %v", err)
}

func TestKDFDeterminismAndLabel(t *testing.T) {
	ikm := []byte("ikm")
	a1 := KDF("pulsar:a", ikm)
	a2 := KDF("pulsar:a", ikm)
	b := KDF("pulsar:b", ikm)
	if !bytes.Equal(a1, a2) {
		t.Fatalf("KDF not deterministic")
	}
	if bytes.Equal(a1, b) {
		t.Fatalf("expected different keys for different labels")
	}
}

func TestPrivateKeyStringRedacted(t *testing.T) {
	_, priv, err := GenerateKeypair()
	require.NoError(t, err)
	require.Equal(t, "PrivateKey{REDACTED}", priv.String())
	require.Equal(t, "SharedKey{REDACTED}", SharedKey{1}.String())
}
