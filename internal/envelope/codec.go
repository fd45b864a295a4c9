// Package envelope implements the HMAC-signed, base64url-encoded state
// codec used for the OAuth-flow cookie, the user-session cookie, and the
// cross-service callback parameters. Each purpose gets its own Codec with
// its own secret, so an envelope minted for one purpose cannot be replayed
// as another.
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"authcore/internal/crypto"
)

// Codec signs and verifies opaque state strings of the form
// "base64url(payload).base64url(tag)" where tag = HMAC-SHA256(secret, payload).
type Codec struct {
	secret []byte
}

// NewCodec creates a codec for one purpose-scoped secret.
func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret)}
}

func (c *Codec) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// Encode serializes v as JSON and appends its HMAC tag.
func (c *Codec) Encode(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope payload: %w", err)
	}
	return crypto.EncodeBase64URL(payload) + "." + crypto.EncodeBase64URL(c.sign(payload)), nil
}

// Decode verifies s and unmarshals the payload into out. Any malformed
// structure, decode failure, or tag mismatch returns false and leaves out
// untouched; it never returns an error, so callers treat every failure
// uniformly as "no valid state".
func (c *Codec) Decode(s string, out any) bool {
	payload, ok := c.verify(s)
	if !ok {
		return false
	}
	return json.Unmarshal(payload, out) == nil
}

func (c *Codec) verify(s string) ([]byte, bool) {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return nil, false
	}

	payload, err := crypto.DecodeBase64URL(s[:dot])
	if err != nil {
		return nil, false
	}
	tag, err := crypto.DecodeBase64URL(s[dot+1:])
	if err != nil {
		return nil, false
	}

	if !crypto.ConstantTimeEqual(c.sign(payload), tag) {
		return nil, false
	}
	return payload, true
}

// TimestampedCodec additionally embeds an issued-at in the signed payload
// and rejects envelopes older than TTL. Used for the one-shot cross-service
// callback, bounding the replay window.
type TimestampedCodec struct {
	codec *Codec
	ttl   time.Duration
	now   func() time.Time
}

// NewTimestampedCodec creates a TTL-bounded codec.
func NewTimestampedCodec(secret string, ttl time.Duration) *TimestampedCodec {
	return &TimestampedCodec{
		codec: NewCodec(secret),
		ttl:   ttl,
		now:   time.Now,
	}
}

type timestamped struct {
	IssuedAt int64           `json:"iat"`
	Payload  json.RawMessage `json:"payload"`
}

// Encode wraps v with the current timestamp and signs the pair.
func (c *TimestampedCodec) Encode(v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope payload: %w", err)
	}
	return c.codec.Encode(timestamped{
		IssuedAt: c.now().Unix(),
		Payload:  payload,
	})
}

// Decode verifies the tag, rejects envelopes outside the TTL window, and
// unmarshals the inner payload. False on any failure, like Codec.Decode.
func (c *TimestampedCodec) Decode(s string, out any) bool {
	var wrapper timestamped
	if !c.codec.Decode(s, &wrapper) {
		return false
	}

	issued := time.Unix(wrapper.IssuedAt, 0)
	now := c.now()
	if issued.After(now.Add(30 * time.Second)) {
		// Far-future timestamps are forgeries or broken clocks either way.
		return false
	}
	if now.Sub(issued) > c.ttl {
		return false
	}

	return json.Unmarshal(wrapper.Payload, out) == nil
}
