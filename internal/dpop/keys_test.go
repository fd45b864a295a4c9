package dpop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairUnique(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, kp1.PrivateKey.D, kp2.PrivateKey.D)
}

func TestRestoreKeyPairRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	exported, err := kp.ExportPrivateJWK()
	require.NoError(t, err)

	restored, err := RestoreKeyPair(exported)
	require.NoError(t, err)

	assert.Equal(t, 0, kp.PrivateKey.D.Cmp(restored.PrivateKey.D))
	assert.Equal(t, 0, kp.PrivateKey.X.Cmp(restored.PrivateKey.X), "public key recomputed from scalar")
	assert.Equal(t, 0, kp.PrivateKey.Y.Cmp(restored.PrivateKey.Y))

	// Proofs from the restored pair verify against the original public key
	proof, err := restored.Proof(ProofOptions{Method: "POST", URL: "https://issuer.example.com/token"})
	require.NoError(t, err)

	v := NewValidator(DefaultValidatorConfig(), nil)
	pub, err := v.ValidateProof(proof, "POST", "https://issuer.example.com/token", "")
	require.NoError(t, err)
	assert.Equal(t, 0, kp.PrivateKey.PublicKey.X.Cmp(pub.X))
}

func TestRestoreKeyPairRejectsGarbage(t *testing.T) {
	_, err := RestoreKeyPair("not json")
	assert.Error(t, err)

	_, err = RestoreKeyPair(`{"kty":"oct","k":"AAAA"}`)
	assert.Error(t, err)
}

func TestThumbprintStable(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	tp1, err := kp.Thumbprint()
	require.NoError(t, err)
	tp2, err := kp.Thumbprint()
	require.NoError(t, err)

	assert.Equal(t, tp1, tp2)
	assert.NotEmpty(t, tp1)

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	tp3, err := other.Thumbprint()
	require.NoError(t, err)
	assert.NotEqual(t, tp1, tp3)
}
