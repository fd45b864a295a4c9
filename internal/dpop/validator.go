package dpop

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"authcore/internal/crypto"
)

// maxProofSize bounds accepted proofs. Oversized proofs are rejected before
// any parsing work.
const maxProofSize = 8 * 1024

type proofHeader struct {
	Typ string          `json:"typ"`
	Alg string          `json:"alg"`
	JWK json.RawMessage `json:"jwk"`
}

// ValidatorConfig bounds the accepted iat window.
type ValidatorConfig struct {
	// ClockSkew is how far in the future an iat may sit. Default 60s.
	ClockSkew time.Duration
	// MaxProofAge is how far in the past an iat may sit. Default 60s.
	MaxProofAge time.Duration
}

// DefaultValidatorConfig returns the RFC-suggested 60 second windows.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		ClockSkew:   60 * time.Second,
		MaxProofAge: 60 * time.Second,
	}
}

// Validator checks DPoP proofs on the verifying side. A nil replay cache
// disables jti tracking; production verifiers always supply one.
type Validator struct {
	config ValidatorConfig
	replay *ReplayCache
	now    func() time.Time
}

func NewValidator(config ValidatorConfig, replay *ReplayCache) *Validator {
	if config.ClockSkew <= 0 {
		config.ClockSkew = 60 * time.Second
	}
	if config.MaxProofAge <= 0 {
		config.MaxProofAge = 60 * time.Second
	}
	return &Validator{config: config, replay: replay, now: time.Now}
}

// ValidateProof validates proof against the request method and URI, and
// against accessToken when one was presented. On success it returns the
// embedded public key so the caller can bind it to issued tokens.
//
// Checks, in order: shape and size, typ and alg (exact), embedded JWK is a
// P-256 key, signature over header.payload, htm and htu match, iat inside
// the skew/age window, ath matches the access token, jti not replayed.
func (v *Validator) ValidateProof(proof, method, uri, accessToken string) (*ecdsa.PublicKey, error) {
	if proof == "" {
		return nil, errInvalidProof("proof is empty")
	}
	if len(proof) > maxProofSize {
		return nil, errInvalidProof("proof exceeds maximum size")
	}

	parts := strings.Split(proof, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, errInvalidProof("proof must have exactly 3 non-empty parts")
	}

	headerBytes, err := crypto.DecodeBase64URL(parts[0])
	if err != nil {
		return nil, errInvalidProof("header is not valid base64url")
	}
	var header proofHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, errInvalidProof("header is not valid JSON")
	}
	if header.Typ != TypeDPoP {
		return nil, errInvalidProof(`typ must be "dpop+jwt"`)
	}
	// The algorithm is fixed. The header value is checked for equality but
	// never used to select a verification path.
	if header.Alg != AlgES256 {
		return nil, errInvalidProof(`alg must be "ES256"`)
	}
	if len(header.JWK) == 0 {
		return nil, errInvalidProof("jwk is required in header")
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(header.JWK); err != nil {
		return nil, errInvalidProof("jwk does not parse")
	}
	pub, ok := jwk.Key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errInvalidProof("jwk must be a P-256 public key")
	}

	sig, err := crypto.DecodeBase64URL(parts[2])
	if err != nil {
		return nil, errInvalidProof("signature is not valid base64url")
	}
	signingInput := parts[0] + "." + parts[1]
	if !crypto.VerifyES256(pub, []byte(signingInput), sig) {
		return nil, errInvalidProof("signature does not verify")
	}

	payloadBytes, err := crypto.DecodeBase64URL(parts[1])
	if err != nil {
		return nil, errInvalidProof("payload is not valid base64url")
	}
	var claims Claims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, errInvalidProof("payload is not valid JSON")
	}

	if claims.HTM == "" || claims.HTU == "" {
		return nil, errInvalidProof("htm and htu claims are required")
	}
	if claims.HTM != method {
		return nil, errInvalidProof("htm does not match request method")
	}

	wantHTU, err := NormalizeURI(uri)
	if err != nil {
		return nil, errInvalidProof("request URI does not normalize")
	}
	gotHTU, err := NormalizeURI(claims.HTU)
	if err != nil {
		return nil, errInvalidProof("htu does not normalize")
	}
	if gotHTU != wantHTU {
		return nil, errInvalidProof("htu does not match request URI")
	}

	now := v.now().Unix()
	if claims.IAT <= 0 {
		return nil, errInvalidProof("iat must be positive")
	}
	if now-claims.IAT > int64(v.config.MaxProofAge.Seconds()) {
		return nil, errInvalidProof("proof is too old")
	}
	if claims.IAT-now > int64(v.config.ClockSkew.Seconds()) {
		return nil, errInvalidProof("iat is too far in the future")
	}

	if accessToken != "" {
		want := crypto.EncodeBase64URL(crypto.SHA256([]byte(accessToken)))
		if !crypto.ConstantTimeEqual([]byte(claims.ATH), []byte(want)) {
			return nil, errInvalidProof("ath does not match access token")
		}
	}

	if v.replay != nil {
		isReplay, err := v.replay.Record(claims.JTI)
		if err != nil {
			return nil, err
		}
		if isReplay {
			return nil, ErrReplay
		}
	}

	return pub, nil
}
