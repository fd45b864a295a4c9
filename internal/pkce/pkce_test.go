package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	v1, err := GenerateCodeVerifier()
	require.NoError(t, err)
	v2, err := GenerateCodeVerifier()
	require.NoError(t, err)

	assert.Len(t, v1, 43) // 32 bytes, unpadded base64url
	assert.NotEqual(t, v1, v2)
}

func TestGenerateCodeChallenge(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	got := GenerateCodeChallenge(verifier)

	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, want, got)

	// Deterministic
	assert.Equal(t, got, GenerateCodeChallenge(verifier))
}

func TestGenerateState(t *testing.T) {
	s1, err := GenerateState()
	require.NoError(t, err)
	s2, err := GenerateState()
	require.NoError(t, err)

	assert.Len(t, s1, 22) // 16 bytes, unpadded base64url
	assert.NotEqual(t, s1, s2)
}

func TestVerifyChallenge(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)
	challenge := GenerateCodeChallenge(verifier)

	assert.True(t, VerifyChallenge(verifier, challenge))
	assert.False(t, VerifyChallenge(verifier+"x", challenge))
	assert.False(t, VerifyChallenge(verifier, challenge[:len(challenge)-1]))
}
