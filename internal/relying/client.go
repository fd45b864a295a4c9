// Package relying implements the relying-party side of the OAuth
// authorization-code flow against the identity server: pushed
// authorization requests carrying PKCE and DPoP key binding, and the
// DPoP-bound token exchange.
package relying

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authcore/internal/config"
	"authcore/internal/dpop"
	"authcore/internal/pkce"
	"authcore/internal/util"
)

// FlowMaterials is the per-flow secret state carried in the flow cookie
// between Begin and Exchange.
type FlowMaterials struct {
	State         string `json:"state"`
	CodeVerifier  string `json:"code_verifier"`
	PrivateJWK    string `json:"private_jwk"`
	AuthRequestID string `json:"auth_request_id"`
}

// BeginResult is what Begin hands back: the materials to stash in the
// flow cookie and the URL to redirect the browser to.
type BeginResult struct {
	Materials   FlowMaterials
	RedirectURL string
}

// TokenResponse is the token endpoint's success payload. TokenType is
// "DPoP" for a key-bound grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type parResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// Client drives the authorization flow against a single identity server.
type Client struct {
	cfg        config.RelyingConfig
	httpClient *http.Client
	dpopClient *dpop.Client
}

func NewClient(cfg config.RelyingConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		dpopClient: dpop.NewClient(httpClient),
	}
}

// Begin generates fresh PKCE materials, state, and a DPoP key pair,
// pushes the authorization request, and returns the redirect URL plus
// the materials the callback will need. loginHint, when set, pre-fills
// the identity server's email prompt.
func (c *Client) Begin(ctx context.Context, loginHint string) (*BeginResult, error) {
	verifier, err := pkce.GenerateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := pkce.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	kp, err := dpop.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate dpop key pair: %w", err)
	}
	jkt, err := kp.Thumbprint()
	if err != nil {
		return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	privateJWK, err := kp.ExportPrivateJWK()
	if err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}

	form := url.Values{}
	form.Set("response_type", "code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("state", state)
	form.Set("code_challenge", pkce.GenerateCodeChallenge(verifier))
	form.Set("code_challenge_method", "S256")
	form.Set("dpop_jkt", jkt)
	if loginHint != "" {
		form.Set("login_hint", loginHint)
	}

	par, err := c.pushAuthorizationRequest(ctx, form)
	if err != nil {
		return nil, err
	}

	redirect, err := url.Parse(c.cfg.AuthorizeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid authorize URL: %w", err)
	}
	q := redirect.Query()
	q.Set("client_id", c.cfg.ClientID)
	q.Set("request_uri", par.RequestURI)
	redirect.RawQuery = q.Encode()

	util.Debug("authorization request pushed",
		util.String("request_uri", par.RequestURI),
		util.Int("expires_in", par.ExpiresIn))

	return &BeginResult{
		Materials: FlowMaterials{
			State:         state,
			CodeVerifier:  verifier,
			PrivateJWK:    privateJWK,
			AuthRequestID: par.RequestURI,
		},
		RedirectURL: redirect.String(),
	}, nil
}

// Exchange redeems the authorization code at the token endpoint with the
// flow's DPoP key. The transport handles the server's nonce challenge
// with a single retry; timeouts and any further rejection are terminal.
func (c *Client) Exchange(ctx context.Context, mats FlowMaterials, code string) (*TokenResponse, error) {
	kp, err := dpop.RestoreKeyPair(mats.PrivateJWK)
	if err != nil {
		return nil, fmt.Errorf("failed to restore dpop key: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code_verifier", mats.CodeVerifier)

	resp, err := c.dpopClient.PostForm(ctx, kp, c.cfg.TokenURL, form, "")
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, errorSnippet(body))
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access token")
	}
	return &token, nil
}

func (c *Client) pushAuthorizationRequest(ctx context.Context, form url.Values) (*parResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ParEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build par request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("par request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read par response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("par endpoint returned %d: %s", resp.StatusCode, errorSnippet(body))
	}

	var par parResponse
	if err := json.Unmarshal(body, &par); err != nil {
		return nil, fmt.Errorf("failed to decode par response: %w", err)
	}
	if par.RequestURI == "" {
		return nil, fmt.Errorf("par endpoint returned no request_uri")
	}
	return &par, nil
}

// errorSnippet keeps error bodies short enough for a log line.
func errorSnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
