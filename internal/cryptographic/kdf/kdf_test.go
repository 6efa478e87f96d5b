package kdf

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// RFC 5869 test case 1.
func TestDeriveRFC5869(t *testing.T) {
	require := require.New(t)

	ikm, _ := hex.DecodeString("0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	salt, _ := hex.DecodeString("000102030405060708090a0b0c")
	info, _ := hex.DecodeString("f0f1f2f3f4f5f6f7f8f9")

	okm, err := Derive(ikm, salt, info, 42)
	require.NoError(err)
	require.Equal("3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865", hex.EncodeToString(okm))
}
