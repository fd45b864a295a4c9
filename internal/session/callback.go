package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"authcore/internal/crypto"
)

// Callback is the signed payload the identity server redirects back to the
// relying party after a successful OTP verification. It travels as query
// parameters on a public redirect URL, so the signature covers every field
// plus a timestamp bounding the replay window.
type Callback struct {
	AuthRequestID string
	Email         string
	Approved      bool
	NewAccount    bool
}

// CallbackCodec signs and verifies callback query parameters with a secret
// shared out-of-band between the two services.
type CallbackCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCallbackCodec creates a codec; ttl bounds how old an envelope may be.
func NewCallbackCodec(secret string, ttl time.Duration) *CallbackCodec {
	return &CallbackCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// The signature covers "ts.canonical-params" so neither the timestamp nor
// any field can be swapped independently.
func (c *CallbackCodec) sign(ts int64, cb *Callback) []byte {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%d.", ts)
	fmt.Fprintf(mac, "auth_request_id=%s&email=%s&approved=%t&new_account=%t",
		url.QueryEscape(cb.AuthRequestID), url.QueryEscape(cb.Email), cb.Approved, cb.NewAccount)
	return mac.Sum(nil)
}

// EncodeQuery produces the signed query parameters for the redirect URL.
func (c *CallbackCodec) EncodeQuery(cb *Callback) url.Values {
	ts := c.now().Unix()
	return url.Values{
		"auth_request_id": {cb.AuthRequestID},
		"email":           {cb.Email},
		"approved":        {strconv.FormatBool(cb.Approved)},
		"new_account":     {strconv.FormatBool(cb.NewAccount)},
		"ts":              {strconv.FormatInt(ts, 10)},
		"sig":             {crypto.EncodeBase64URL(c.sign(ts, cb))},
	}
}

// DecodeQuery verifies the parameters and returns the callback payload.
// False on any tampering, malformation, or an envelope outside the TTL
// window; callers treat all of those identically.
func (c *CallbackCodec) DecodeQuery(values url.Values) (*Callback, bool) {
	ts, err := strconv.ParseInt(values.Get("ts"), 10, 64)
	if err != nil {
		return nil, false
	}
	approved, err := strconv.ParseBool(values.Get("approved"))
	if err != nil {
		return nil, false
	}
	newAccount, err := strconv.ParseBool(values.Get("new_account"))
	if err != nil {
		return nil, false
	}

	cb := &Callback{
		AuthRequestID: values.Get("auth_request_id"),
		Email:         values.Get("email"),
		Approved:      approved,
		NewAccount:    newAccount,
	}
	if cb.AuthRequestID == "" || cb.Email == "" {
		return nil, false
	}

	tag, err := crypto.DecodeBase64URL(values.Get("sig"))
	if err != nil {
		return nil, false
	}
	if !crypto.ConstantTimeEqual(c.sign(ts, cb), tag) {
		return nil, false
	}

	issued := time.Unix(ts, 0)
	now := c.now()
	if issued.After(now.Add(30 * time.Second)) {
		return nil, false
	}
	if now.Sub(issued) > c.ttl {
		return nil, false
	}

	return cb, true
}
