package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := SharedKey{}
	copy(key[:], bytes.Repeat([]byte{0x01}, SharedKeySize))
	cases := [][]byte{
		nil,
		{},
		[]byte("payload"),
		bytes.Repeat([]byte{0xab}, 64<<10),
	}
	for _, plain := range cases {
		sealed, err := Seal(key, plain)
		require.NoError(t, err)
		require.Len(t, sealed, len(plain)+Overhead)
		opened, err := Open(key, sealed)
		require.NoError(t, err)
		require.True(t, bytes.Equal(plain, opened))
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	key := SharedKey{7}
	a, err := Seal(key, []byte("same"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same"))
	require.NoError(t, err)
	require.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestOpenWrongKeyFails(t *testing.T) {
	sealed, err := Seal(SharedKey{1}, []byte("payload"))
	require.NoError(t, err)
	_, err = Open(SharedKey{2}, sealed)
	require.True(t, errors.Is(err, ErrDecrypt))
}

func TestOpenTamperFails(t *testing.T) {
	key := SharedKey{3}
	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	for i := range sealed {
		tampered := append([]byte(nil), sealed...)
		tampered[i] ^= 0xff
		if _, err := Open(key, tampered); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("expected tamper failure at byte %d, got %v", i, err)
		}
	}
}

func TestOpenTruncatedFails(t *testing.T) {
	key := SharedKey{4}
	sealed, err := Seal(key, []byte("payload"))
	require.NoError(t, err)
	for n := 0; n < len(sealed); n++ {
		if _, err := Open(key, sealed[:n]); !errors.Is(err, ErrDecrypt) {
			t.Fatalf("expected truncation failure at len %d, got %v", n, err)
		}
	}
}
