package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager("flow-secret", "user-secret", 10*time.Minute, 24*time.Hour)
}

func requestWithCookies(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestFlowCookieRoundTrip(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()

	in := &OAuthFlow{
		State:          "state-abc",
		CodeVerifier:   "verifier-xyz",
		DPoPPrivateJWK: `{"kty":"EC"}`,
		AuthRequestID:  "req:1",
	}
	require.NoError(t, m.SetFlow(rec, in))

	out, ok := m.GetFlow(requestWithCookies(t, rec))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestFlowCookieAttributes(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()
	require.NoError(t, m.SetFlow(rec, &OAuthFlow{State: "s"}))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, FlowCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, int((10 * time.Minute).Seconds()), c.MaxAge)
}

func TestFlowCookieTamperRejected(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()
	require.NoError(t, m.SetFlow(rec, &OAuthFlow{State: "s"}))

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	c := rec.Result().Cookies()[0]
	c.Value = c.Value[:len(c.Value)-2] + "xx"
	req.AddCookie(c)

	_, ok := m.GetFlow(req)
	assert.False(t, ok)
}

func TestUserCookieRoundTrip(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()

	in := &UserSession{Email: "a@b.com", AccountID: "acct-1", NewAccount: true}
	require.NoError(t, m.SetUser(rec, in))

	out, ok := m.GetUser(requestWithCookies(t, rec))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestCookiePurposeSeparation(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()
	require.NoError(t, m.SetUser(rec, &UserSession{Email: "a@b.com"}))

	// Replay the user cookie value under the flow cookie name
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: FlowCookieName, Value: rec.Result().Cookies()[0].Value})

	_, ok := m.GetFlow(req)
	assert.False(t, ok)
}

func TestMissingCookie(t *testing.T) {
	m := newTestManager()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := m.GetFlow(req)
	assert.False(t, ok)
	_, ok = m.GetUser(req)
	assert.False(t, ok)
}

func TestClearCookies(t *testing.T) {
	m := newTestManager()
	rec := httptest.NewRecorder()
	m.ClearFlow(rec)
	m.ClearUser(rec)

	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
	}
}
