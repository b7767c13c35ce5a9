package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pulsar/internal/crypto"
)

func TestDeriveNodeID(t *testing.T) {
	pub := crypto.PublicKey{1, 2, 3}
	got := DeriveNodeID(pub)
	want := crypto.KDF("pulsar:nodeid:v1", pub[:])
	require.Equal(t, want, got[:])
	require.NotEqual(t, got, DeriveNodeID(crypto.PublicKey{4}))
}

func TestIdentitySharedKeySymmetric(t *testing.T) {
	a, err := NewIdentity(1)
	require.NoError(t, err)
	b, err := NewIdentity(1)
	require.NoError(t, err)
	ab, err := a.SharedKey(b.PublicKey)
	require.NoError(t, err)
	ba, err := b.SharedKey(a.PublicKey)
	require.NoError(t, err)
	require.Equal(t, ab, ba)
}

func TestNewIdentityRejectsZeroRoute(t *testing.T) {
	_, err := NewIdentity(0)
	require.ErrorIs(t, err, ErrBadRoute)
	_, _, err = LoadIdentity(t.TempDir(), 0)
	require.ErrorIs(t, err, ErrBadRoute)
}

func TestLoadIdentityPersistsKeys(t *testing.T) {
	dir := t.TempDir()
	first, created, err := LoadIdentity(dir, 3)
	require.NoError(t, err)
	require.True(t, created)
	second, created, err := LoadIdentity(dir, 3)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.PublicKey, second.PublicKey)
	require.Equal(t, first.NodeID(), second.NodeID())
	require.Len(t, first.NodeID(), 64)
}
