package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeypairPersistence(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadKeypair(dir)
	require.True(t, os.IsNotExist(err), "got %v", err)

	pub, priv, created, err := LoadOrCreateKeypair(dir)
	require.NoError(t, err)
	require.True(t, created)

	pub2, priv2, created, err := LoadOrCreateKeypair(dir)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, pub, pub2)
	require.Equal(t, priv, priv2)

	info, err := os.Stat(filepath.Join(dir, privKeyFile))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadKeypairMismatch(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := GenerateKeypair()
	require.NoError(t, err)
	other, _, err := GenerateKeypair()
	require.NoError(t, err)
	require.NoError(t, SaveKeypair(dir, other, priv))
	_, _, err = LoadKeypair(dir)
	require.Error(t, err)
}
