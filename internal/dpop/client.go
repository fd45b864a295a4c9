package dpop

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authcore/internal/util"
)

// Client sends DPoP-bound form requests and implements the nonce retry
// protocol: the first proof to an endpoint is expected to be rejected with
// a server-chosen nonce; the request is rebuilt with that nonce and retried
// exactly once. A second rejection is terminal.
type Client struct {
	httpClient *http.Client
}

// NewClient wraps httpClient; nil gets a default with a 10s timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{httpClient: httpClient}
}

// PostForm sends a form-urlencoded POST bound to kp. accessToken, when set,
// is sent as an Authorization: DPoP header and hashed into the proof's ath
// claim. The caller owns closing the response body.
func (c *Client) PostForm(ctx context.Context, kp *KeyPair, endpoint string, form url.Values, accessToken string) (*http.Response, error) {
	resp, err := c.send(ctx, kp, endpoint, form, "", accessToken)
	if err != nil {
		return nil, err
	}

	nonce := resp.Header.Get("DPoP-Nonce")
	if resp.StatusCode < 400 || nonce == "" {
		return resp, nil
	}

	// Server challenged us with a nonce; one rebuild, one retry.
	resp.Body.Close()
	util.Debug("retrying with server dpop nonce", util.String("endpoint", endpoint))

	retry, err := c.send(ctx, kp, endpoint, form, nonce, accessToken)
	if err != nil {
		return nil, err
	}
	if retry.StatusCode >= 400 && retry.Header.Get("DPoP-Nonce") != "" {
		// Never loop against a misbehaving or hostile endpoint.
		retry.Body.Close()
		return nil, fmt.Errorf("endpoint %s: %w", endpoint, ErrProofRejected)
	}
	return retry, nil
}

func (c *Client) send(ctx context.Context, kp *KeyPair, endpoint string, form url.Values, nonce, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "DPoP "+accessToken)
	}
	if err := kp.SignRequest(req, nonce, accessToken); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts are terminal for this request; the caller never retries.
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	return resp, nil
}
