package hybrid

import (
	"encoding/base64"
	"errors"
	"phantom_chat/internal/cryptographic/dh"
	"phantom_chat/internal/cryptographic/kem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBothSidesDeriveTheSameKey(t *testing.T) {
	require := require.New(t)

	for i := 0; i < 8; i++ {
		a, err := GenerateKeyPair()
		require.NoError(err)
		b, err := GenerateKeyPair()
		require.NoError(err)

		aPub, err := ExportPublic(a)
		require.NoError(err)
		bPub, err := ExportPublic(b)
		require.NoError(err)

		started, err := DeriveAsInitiator(a, bPub)
		require.NoError(err)
		require.Len(started.SessionKey, SessionKeySize)

		ct, err := DecodeCiphertext(EncodeCiphertext(started.Ciphertext))
		require.NoError(err)

		key, err := DeriveAsResponder(b, aPub, ct)
		require.NoError(err)
		require.Equal(started.SessionKey, key)
	}
}

func TestExportedKeySizes(t *testing.T) {
	require := require.New(t)

	kp, err := GenerateKeyPair()
	require.NoError(err)
	pub, err := ExportPublic(kp)
	require.NoError(err)

	ec, err := base64.StdEncoding.DecodeString(pub.ECDH)
	require.NoError(err)
	require.Len(ec, dh.PublicKeySize)

	pq, err := base64.StdEncoding.DecodeString(pub.Kyber)
	require.NoError(err)
	require.Len(pq, kem.PublicKeySize)
}

func TestCombineDependsOnBothSecrets(t *testing.T) {
	require := require.New(t)

	ec := make([]byte, 32)
	pq := make([]byte, 32)
	base, err := Combine(ec, pq)
	require.NoError(err)

	pq[0] = 1
	k1, err := Combine(ec, pq)
	require.NoError(err)
	require.NotEqual(base, k1)

	pq[0] = 0
	ec[31] = 1
	k2, err := Combine(ec, pq)
	require.NoError(err)
	require.NotEqual(base, k2)
	require.NotEqual(k1, k2)
}

func TestInvalidPeerMaterial(t *testing.T) {
	require := require.New(t)

	a, err := GenerateKeyPair()
	require.NoError(err)
	b, err := GenerateKeyPair()
	require.NoError(err)
	bPub, err := ExportPublic(b)
	require.NoError(err)

	bad := *bPub
	bad.ECDH = base64.StdEncoding.EncodeToString([]byte{0x04, 0x00})
	_, err = DeriveAsInitiator(a, &bad)
	require.True(errors.Is(err, dh.ErrInvalidPeerKey))

	bad = *bPub
	bad.Kyber = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = DeriveAsInitiator(a, &bad)
	require.True(errors.Is(err, kem.ErrInvalidPublicKey))

	aPub, err := ExportPublic(a)
	require.NoError(err)
	_, err = DeriveAsResponder(b, aPub, []byte("garbage"))
	require.True(errors.Is(err, kem.ErrDecapsulation))
}

func TestTamperedArtifactBreaksAgreement(t *testing.T) {
	require := require.New(t)

	a, err := GenerateKeyPair()
	require.NoError(err)
	b, err := GenerateKeyPair()
	require.NoError(err)
	aPub, _ := ExportPublic(a)
	bPub, _ := ExportPublic(b)

	started, err := DeriveAsInitiator(a, bPub)
	require.NoError(err)

	started.Ciphertext[0] ^= 0x01
	key, err := DeriveAsResponder(b, aPub, started.Ciphertext)
	require.NoError(err)
	require.NotEqual(started.SessionKey, key)
}

func TestMarshalRoundTrip(t *testing.T) {
	require := require.New(t)

	kp, err := GenerateKeyPair()
	require.NoError(err)
	ec, pq, err := kp.Marshal()
	require.NoError(err)

	restored, err := UnmarshalKeyPair(ec, pq)
	require.NoError(err)

	p1, _ := ExportPublic(kp)
	p2, _ := ExportPublic(restored)
	require.Equal(p1, p2)
}
