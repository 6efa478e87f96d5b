package dh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedSecretAgrees(t *testing.T) {
	require := require.New(t)

	a, err := NewP256KeyPair()
	require.NoError(err)
	b, err := NewP256KeyPair()
	require.NoError(err)

	require.Len(a.PublicKey().Bytes(), PublicKeySize)

	ab, err := SharedSecret(a, b.PublicKey().Bytes())
	require.NoError(err)
	ba, err := SharedSecret(b, a.PublicKey().Bytes())
	require.NoError(err)
	require.Equal(ab, ba)
	require.Len(ab, 32)
}

func TestSharedSecretRejectsInvalidPoint(t *testing.T) {
	require := require.New(t)

	a, err := NewP256KeyPair()
	require.NoError(err)

	bad := a.PublicKey().Bytes()
	bad[len(bad)-1] ^= 0x01

	_, err = SharedSecret(a, bad)
	require.True(errors.Is(err, ErrInvalidPeerKey))

	_, err = SharedSecret(a, []byte{0x04, 0x01})
	require.True(errors.Is(err, ErrInvalidPeerKey))

	_, err = SharedSecret(a, nil)
	require.True(errors.Is(err, ErrInvalidPeerKey))
}
