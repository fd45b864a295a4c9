package dpop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostFormNonceRetry(t *testing.T) {
	var calls atomic.Int32
	var sawNonce atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		require.NotEmpty(t, r.Header.Get("DPoP"))

		if n == 1 {
			w.Header().Set("DPoP-Nonce", "nonce-123")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		// Second attempt must carry the nonce inside the proof payload.
		v := NewValidator(DefaultValidatorConfig(), nil)
		_, err := v.ValidateProof(r.Header.Get("DPoP"), "POST", "http://"+r.Host+r.URL.Path, "")
		require.NoError(t, err)
		sawNonce.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	c := NewClient(srv.Client())
	resp, err := c.PostForm(context.Background(), kp, srv.URL+"/token", url.Values{"grant_type": {"authorization_code"}}, "")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
	assert.True(t, sawNonce.Load())
}

func TestPostFormTerminalAfterSecondRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("DPoP-Nonce", "always-rejecting")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	c := NewClient(srv.Client())
	_, err = c.PostForm(context.Background(), kp, srv.URL+"/token", url.Values{}, "")
	assert.ErrorIs(t, err, ErrProofRejected)
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry, never a loop")
}

func TestPostFormNoRetryOnPlainFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	c := NewClient(srv.Client())
	resp, err := c.PostForm(context.Background(), kp, srv.URL+"/token", url.Values{}, "")
	require.NoError(t, err)
	defer resp.Body.Close()

	// No DPoP-Nonce header means the failure is the caller's to interpret.
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}
