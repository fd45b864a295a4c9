package dpop

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"authcore/internal/crypto"
)

// KeyPair holds the ephemeral P-256 key material for one OAuth flow.
// The private JWK round-trips through a signed cookie so a stateless server
// can reconstruct the identical pair on the callback request; it is never
// persisted server-side.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicJWK  jose.JSONWebKey
}

// GenerateKeyPair generates a fresh P-256 key pair. Pairs are never reused
// across flows.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := crypto.GenerateP256Key()
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PrivateKey: priv,
		PublicJWK: jose.JSONWebKey{
			Key:       priv.Public(),
			Algorithm: string(jose.ES256),
			Use:       "sig",
		},
	}, nil
}

// ExportPrivateJWK serializes the private key as a JWK JSON document.
// The output contains key material and must only travel inside a signed,
// HttpOnly cookie.
func (kp *KeyPair) ExportPrivateJWK() (string, error) {
	jwk := jose.JSONWebKey{
		Key:       kp.PrivateKey,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
	raw, err := json.Marshal(jwk)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private JWK: %w", err)
	}
	return string(raw), nil
}

// RestoreKeyPair reconstructs the exact key pair from a previously exported
// private JWK, recomputing the public half. Rejects anything that is not a
// P-256 private key.
func RestoreKeyPair(privateJWK string) (*KeyPair, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal([]byte(privateJWK), &jwk); err != nil {
		return nil, fmt.Errorf("failed to parse private JWK: %w", err)
	}

	priv, ok := jwk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("JWK is not an EC private key")
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("JWK curve must be P-256, got %s", priv.Curve.Params().Name)
	}

	// Recompute the public key from the scalar rather than trusting the
	// x/y carried in the document.
	x, y := priv.Curve.ScalarBaseMult(priv.D.Bytes())
	priv.PublicKey = ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	return &KeyPair{
		PrivateKey: priv,
		PublicJWK: jose.JSONWebKey{
			Key:       priv.Public(),
			Algorithm: string(jose.ES256),
			Use:       "sig",
		},
	}, nil
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint of the public key,
// base64url encoded. Used as the dpop_jkt binding parameter in PAR requests.
func (kp *KeyPair) Thumbprint() (string, error) {
	tp, err := kp.PublicJWK.Thumbprint(stdcrypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute JWK thumbprint: %w", err)
	}
	return crypto.EncodeBase64URL(tp), nil
}
