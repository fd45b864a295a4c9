// Package dpop builds and validates RFC 9449 proof-of-possession tokens.
//
// A proof is a compact JWS binding a single HTTP request to a client-held
// P-256 key: header {typ: dpop+jwt, alg: ES256, jwk}, claims {jti, htm,
// htu, iat} plus the optional server nonce and access-token hash. The
// ES256 signature is raw r||s per JOSE; verifiers reject DER.
package dpop

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"authcore/internal/crypto"
)

// Type and algorithm constants. The algorithm is fixed: the alg header is
// never consulted to select a verification algorithm.
const (
	TypeDPoP = "dpop+jwt"
	AlgES256 = "ES256"
)

// Claims is the DPoP proof payload.
type Claims struct {
	JTI   string `json:"jti"`
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	IAT   int64  `json:"iat"`
	Nonce string `json:"nonce,omitempty"`
	ATH   string `json:"ath,omitempty"`
}

// ProofOptions describes the request a proof is bound to.
type ProofOptions struct {
	Method string
	URL    string
	// Nonce is the server-supplied challenge from a previous rejection,
	// empty on the first attempt.
	Nonce string
	// AccessToken, when set, adds the ath claim binding the proof to it.
	AccessToken string
}

// Proof creates a signed DPoP proof for a single request. Every call draws
// a fresh jti and iat, so a proof must never be cached and resent.
func (kp *KeyPair) Proof(opts ProofOptions) (string, error) {
	htu, err := NormalizeURI(opts.URL)
	if err != nil {
		return "", fmt.Errorf("failed to normalize URI: %w", err)
	}

	signerOpts := (&jose.SignerOptions{EmbedJWK: true}).WithType(TypeDPoP)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: kp.PrivateKey}, signerOpts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	claims := Claims{
		JTI:   uuid.New().String(),
		HTM:   opts.Method,
		HTU:   htu,
		IAT:   time.Now().Unix(),
		Nonce: opts.Nonce,
	}
	if opts.AccessToken != "" {
		claims.ATH = crypto.EncodeBase64URL(crypto.SHA256([]byte(opts.AccessToken)))
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize proof: %w", err)
	}
	return proof, nil
}

// SignRequest attaches a DPoP header to req. The htu derives from the
// request URL, not the Host header.
func (kp *KeyPair) SignRequest(req *http.Request, nonce, accessToken string) error {
	proof, err := kp.Proof(ProofOptions{
		Method:      req.Method,
		URL:         req.URL.String(),
		Nonce:       nonce,
		AccessToken: accessToken,
	})
	if err != nil {
		return err
	}
	req.Header.Set("DPoP", proof)
	return nil
}

// NormalizeURI normalizes a URI per RFC 9449 section 4.2:
// lowercase scheme and host, keep the path verbatim, strip query and
// fragment, drop default ports.
func NormalizeURI(rawURI string) (string, error) {
	if rawURI == "" {
		return "", errInvalidProof("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errInvalidProof("URL must have scheme and host")
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Hostname())

	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "https" && port == "443") || (scheme == "http" && port == "80")
		if !isDefault {
			host = host + ":" + port
		}
	}

	path := parsed.Path
	if path == "" {
		path = "/"
	}

	return scheme + "://" + host + path, nil
}
