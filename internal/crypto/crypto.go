// Package crypto wraps the small set of primitives the authentication layer
// depends on: secure randomness, SHA-256, constant-time comparison,
// base64url coding, and P-256 ECDSA with the raw r||s signature form that
// JOSE (ES256) verifiers expect.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

// ES256SignatureSize is the length of a raw ES256 signature: two 32-byte
// big-endian scalars concatenated, never DER.
const ES256SignatureSize = 64

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return b, nil
}

// SHA256 returns the SHA-256 digest of b.
func SHA256(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

// ConstantTimeEqual compares two byte slices in time independent of where
// the first mismatch occurs. Differing lengths return false, never panic.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// EncodeBase64URL encodes bytes as unpadded base64url.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes an unpadded base64url string.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// GenerateP256Key generates a fresh NIST P-256 key pair.
// Uses crypto/rand for entropy; never math/rand.
func GenerateP256Key() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return key, nil
}

// SignES256 signs data with ECDSA over P-256 and SHA-256, returning the
// signature as raw r||s (64 bytes). Remote verifiers depend on this exact
// form; DER output would not validate.
func SignES256(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := SHA256(data)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign failed: %w", err)
	}
	sig := make([]byte, ES256SignatureSize)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// VerifyES256 verifies a raw r||s signature over data.
func VerifyES256(pub *ecdsa.PublicKey, data, sig []byte) bool {
	if len(sig) != ES256SignatureSize {
		return false
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	return ecdsa.Verify(pub, SHA256(data), r, s)
}
