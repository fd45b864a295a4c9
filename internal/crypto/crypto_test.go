package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	require.NoError(t, err)
	b, err := RandomBytes(32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b, "two draws must differ")
}

func TestConstantTimeEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"equal", []byte("secret"), []byte("secret"), true},
		{"mismatch", []byte("secret"), []byte("secreT"), false},
		{"length mismatch returns false", []byte("secret"), []byte("secrets"), false},
		{"both empty", []byte{}, []byte{}, true},
		{"nil vs empty", nil, []byte{}, true},
		{"nil vs data", nil, []byte("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstantTimeEqual(tt.a, tt.b))
		})
	}
}

func TestSHA256(t *testing.T) {
	// SHA-256("abc"), from FIPS 180-2 test vectors
	digest := SHA256([]byte("abc"))
	assert.Equal(t,
		"ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0",
		EncodeBase64URL(digest))
}

func TestBase64URLRoundTrip(t *testing.T) {
	raw, err := RandomBytes(57) // not a multiple of 3, exercises unpadded tail
	require.NoError(t, err)

	encoded := EncodeBase64URL(raw)
	assert.NotContains(t, encoded, "=")
	decoded, err := DecodeBase64URL(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestSignES256RawFormat(t *testing.T) {
	key, err := GenerateP256Key()
	require.NoError(t, err)

	data := []byte("signing input")
	sig, err := SignES256(key, data)
	require.NoError(t, err)

	assert.Len(t, sig, ES256SignatureSize)
	assert.True(t, VerifyES256(&key.PublicKey, data, sig))
	assert.False(t, VerifyES256(&key.PublicKey, []byte("other input"), sig))

	// Flipping any bit must invalidate the signature
	sig[0] ^= 0x01
	assert.False(t, VerifyES256(&key.PublicKey, data, sig))
}

func TestVerifyES256RejectsWrongLength(t *testing.T) {
	key, err := GenerateP256Key()
	require.NoError(t, err)
	assert.False(t, VerifyES256(&key.PublicKey, []byte("data"), make([]byte, 63)))
	assert.False(t, VerifyES256(&key.PublicKey, []byte("data"), nil))
}
