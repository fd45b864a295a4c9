package session

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackRoundTrip(t *testing.T) {
	c := NewCallbackCodec("cb-secret", 2*time.Minute)

	in := &Callback{
		AuthRequestID: "req:1",
		Email:         "a@b.com",
		Approved:      true,
		NewAccount:    false,
	}
	values := c.EncodeQuery(in)

	assert.NotEmpty(t, values.Get("sig"))
	assert.NotEmpty(t, values.Get("ts"))

	out, ok := c.DecodeQuery(values)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestCallbackTamperedFieldRejected(t *testing.T) {
	c := NewCallbackCodec("cb-secret", 2*time.Minute)
	values := c.EncodeQuery(&Callback{AuthRequestID: "req:1", Email: "a@b.com", Approved: false})

	// Attacker flips approved on the wire
	values.Set("approved", "true")
	_, ok := c.DecodeQuery(values)
	assert.False(t, ok)
}

func TestCallbackTamperedEmailRejected(t *testing.T) {
	c := NewCallbackCodec("cb-secret", 2*time.Minute)
	values := c.EncodeQuery(&Callback{AuthRequestID: "req:1", Email: "victim@b.com", Approved: true})

	values.Set("email", "attacker@b.com")
	_, ok := c.DecodeQuery(values)
	assert.False(t, ok)
}

func TestCallbackTamperedTimestampRejected(t *testing.T) {
	c := NewCallbackCodec("cb-secret", 2*time.Minute)
	values := c.EncodeQuery(&Callback{AuthRequestID: "req:1", Email: "a@b.com", Approved: true})

	values.Set("ts", "9999999999")
	_, ok := c.DecodeQuery(values)
	assert.False(t, ok, "timestamp is covered by the signature")
}

func TestCallbackReplayWindow(t *testing.T) {
	c := NewCallbackCodec("cb-secret", 2*time.Minute)
	values := c.EncodeQuery(&Callback{AuthRequestID: "req:1", Email: "a@b.com", Approved: true})

	c.now = func() time.Time { return time.Now().Add(5 * time.Minute) }
	_, ok := c.DecodeQuery(values)
	assert.False(t, ok, "expired envelope rejected even with a valid signature")
}

func TestCallbackWrongSecret(t *testing.T) {
	mint := NewCallbackCodec("secret-a", 2*time.Minute)
	verify := NewCallbackCodec("secret-b", 2*time.Minute)

	values := mint.EncodeQuery(&Callback{AuthRequestID: "req:1", Email: "a@b.com", Approved: true})
	_, ok := verify.DecodeQuery(values)
	assert.False(t, ok)
}

func TestCallbackMalformed(t *testing.T) {
	c := NewCallbackCodec("cb-secret", 2*time.Minute)

	cases := []url.Values{
		{},
		{"ts": {"abc"}},
		{"ts": {"123"}, "approved": {"notbool"}},
		{"ts": {"123"}, "approved": {"true"}, "new_account": {"false"}, "sig": {"%%%"}},
	}
	for i, values := range cases {
		_, ok := c.DecodeQuery(values)
		assert.False(t, ok, "case %d", i)
	}
}
