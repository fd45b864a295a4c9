package dpop

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProof(t *testing.T, opts ProofOptions) (*KeyPair, string) {
	t.Helper()
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	proof, err := kp.Proof(opts)
	require.NoError(t, err)
	return kp, proof
}

func TestValidateProofAccepts(t *testing.T) {
	_, proof := newTestProof(t, ProofOptions{Method: "POST", URL: "https://issuer.example.com/token"})

	v := NewValidator(DefaultValidatorConfig(), nil)
	pub, err := v.ValidateProof(proof, "POST", "https://issuer.example.com/token", "")
	require.NoError(t, err)
	assert.NotNil(t, pub)
}

func TestValidateProofRejections(t *testing.T) {
	_, proof := newTestProof(t, ProofOptions{Method: "POST", URL: "https://issuer.example.com/token"})
	v := NewValidator(DefaultValidatorConfig(), nil)

	tests := []struct {
		name          string
		proof, method string
		uri           string
	}{
		{"empty proof", "", "POST", "https://issuer.example.com/token"},
		{"two parts", "aa.bb", "POST", "https://issuer.example.com/token"},
		{"wrong method", proof, "GET", "https://issuer.example.com/token"},
		{"wrong uri", proof, "POST", "https://issuer.example.com/other"},
		{"wrong host", proof, "POST", "https://evil.example.com/token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateProof(tt.proof, tt.method, tt.uri, "")
			assert.Error(t, err)
		})
	}
}

func TestValidateProofTamperedSignature(t *testing.T) {
	_, proof := newTestProof(t, ProofOptions{Method: "POST", URL: "https://issuer.example.com/token"})

	parts := strings.Split(proof, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	v := NewValidator(DefaultValidatorConfig(), nil)
	_, err := v.ValidateProof(tampered, "POST", "https://issuer.example.com/token", "")
	assert.Error(t, err)
}

func TestValidateProofStaleIAT(t *testing.T) {
	_, proof := newTestProof(t, ProofOptions{Method: "POST", URL: "https://issuer.example.com/token"})

	v := NewValidator(DefaultValidatorConfig(), nil)
	v.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	_, err := v.ValidateProof(proof, "POST", "https://issuer.example.com/token", "")
	assert.Error(t, err)
}

func TestValidateProofATHBinding(t *testing.T) {
	_, proof := newTestProof(t, ProofOptions{
		Method:      "GET",
		URL:         "https://api.example.com/userinfo",
		AccessToken: "the-token",
	})
	v := NewValidator(DefaultValidatorConfig(), nil)

	_, err := v.ValidateProof(proof, "GET", "https://api.example.com/userinfo", "the-token")
	assert.NoError(t, err)

	_, err = v.ValidateProof(proof, "GET", "https://api.example.com/userinfo", "another-token")
	assert.Error(t, err)

	// Proof without ath rejected when a token is presented
	_, bare := newTestProof(t, ProofOptions{Method: "GET", URL: "https://api.example.com/userinfo"})
	_, err = v.ValidateProof(bare, "GET", "https://api.example.com/userinfo", "the-token")
	assert.Error(t, err)
}

func TestValidateProofReplay(t *testing.T) {
	cache := NewReplayCache()
	defer cache.Close()

	_, proof := newTestProof(t, ProofOptions{Method: "POST", URL: "https://issuer.example.com/token"})
	v := NewValidator(DefaultValidatorConfig(), cache)

	_, err := v.ValidateProof(proof, "POST", "https://issuer.example.com/token", "")
	require.NoError(t, err)

	_, err = v.ValidateProof(proof, "POST", "https://issuer.example.com/token", "")
	assert.ErrorIs(t, err, ErrReplay)
}
