// Package session defines the signed state that crosses process and network
// boundaries: the ephemeral OAuth-flow cookie, the durable user-session
// cookie, and the one-shot cross-service callback parameters. All three are
// tamper-evident via purpose-scoped HMAC secrets; none require server-side
// session storage.
package session

import (
	"net/http"
	"time"

	"authcore/internal/envelope"
)

const (
	// FlowCookieName carries the ephemeral OAuth state between the initial
	// redirect and the callback.
	FlowCookieName = "__auth_flow"

	// UserCookieName carries the durable user session.
	UserCookieName = "__session"
)

// OAuthFlow is the per-flow state round-tripped through the flow cookie so
// a stateless server can finish the exchange: the CSRF state, the PKCE
// verifier, and the DPoP private key that must survive the redirect.
type OAuthFlow struct {
	State          string `json:"state"`
	CodeVerifier   string `json:"code_verifier"`
	DPoPPrivateJWK string `json:"dpop_private_jwk"`
	AuthRequestID  string `json:"auth_request_id"`
	ReturnTo       string `json:"return_to,omitempty"`
}

// UserSession is the durable signed session minted after a successful
// verification and token exchange.
type UserSession struct {
	Email      string `json:"email"`
	AccountID  string `json:"account_id,omitempty"`
	NewAccount bool   `json:"new_account,omitempty"`
}

// Manager mints and reads the two cookies. Flow and user cookies use
// distinct secrets and distinct TTLs; both are TTL-checked server-side in
// addition to the browser-enforced maxAge.
type Manager struct {
	flow    *envelope.TimestampedCodec
	user    *envelope.TimestampedCodec
	flowTTL time.Duration
	userTTL time.Duration
}

// NewManager builds a Manager from the two purpose secrets.
func NewManager(flowSecret, userSecret string, flowTTL, userTTL time.Duration) *Manager {
	return &Manager{
		flow:    envelope.NewTimestampedCodec(flowSecret, flowTTL),
		user:    envelope.NewTimestampedCodec(userSecret, userTTL),
		flowTTL: flowTTL,
		userTTL: userTTL,
	}
}

func setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetFlow writes the OAuth-flow cookie.
func (m *Manager) SetFlow(w http.ResponseWriter, flow *OAuthFlow) error {
	encoded, err := m.flow.Encode(flow)
	if err != nil {
		return err
	}
	setCookie(w, FlowCookieName, encoded, m.flowTTL)
	return nil
}

// GetFlow reads and verifies the flow cookie. False means "no valid flow",
// whatever the cause.
func (m *Manager) GetFlow(r *http.Request) (*OAuthFlow, bool) {
	cookie, err := r.Cookie(FlowCookieName)
	if err != nil {
		return nil, false
	}
	var flow OAuthFlow
	if !m.flow.Decode(cookie.Value, &flow) {
		return nil, false
	}
	return &flow, true
}

// ClearFlow expires the flow cookie; the flow state is one-shot.
func (m *Manager) ClearFlow(w http.ResponseWriter) {
	clearCookie(w, FlowCookieName)
}

// SetUser writes the user-session cookie.
func (m *Manager) SetUser(w http.ResponseWriter, sess *UserSession) error {
	encoded, err := m.user.Encode(sess)
	if err != nil {
		return err
	}
	setCookie(w, UserCookieName, encoded, m.userTTL)
	return nil
}

// GetUser reads and verifies the user-session cookie.
func (m *Manager) GetUser(r *http.Request) (*UserSession, bool) {
	cookie, err := r.Cookie(UserCookieName)
	if err != nil {
		return nil, false
	}
	var sess UserSession
	if !m.user.Decode(cookie.Value, &sess) {
		return nil, false
	}
	return &sess, true
}

// ClearUser expires the user-session cookie (logout).
func (m *Manager) ClearUser(w http.ResponseWriter) {
	clearCookie(w, UserCookieName)
}
