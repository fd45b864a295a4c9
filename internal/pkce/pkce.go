// Package pkce implements the RFC 7636 Proof Key for Code Exchange helpers
// used on both sides of the authorization flow. Only the S256 method is
// supported.
package pkce

import (
	"authcore/internal/crypto"
)

// GenerateCodeVerifier generates a cryptographically random code verifier.
// 32 bytes of entropy, base64url encoded (43 characters).
func GenerateCodeVerifier() (string, error) {
	b, err := crypto.RandomBytes(32)
	if err != nil {
		return "", err
	}
	return crypto.EncodeBase64URL(b), nil
}

// GenerateCodeChallenge computes the S256 code challenge for a verifier.
// Deterministic: the same verifier always yields the same challenge.
func GenerateCodeChallenge(verifier string) string {
	return crypto.EncodeBase64URL(crypto.SHA256([]byte(verifier)))
}

// GenerateState generates a random state parameter for CSRF binding of the
// redirect round trip. 16 bytes, base64url encoded.
func GenerateState() (string, error) {
	b, err := crypto.RandomBytes(16)
	if err != nil {
		return "", err
	}
	return crypto.EncodeBase64URL(b), nil
}

// VerifyChallenge checks a verifier against a previously issued challenge
// in constant time.
func VerifyChallenge(verifier, challenge string) bool {
	expected := GenerateCodeChallenge(verifier)
	return crypto.ConstantTimeEqual([]byte(expected), []byte(challenge))
}
