package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Email string `json:"email"`
	Seq   int    `json:"seq"`
}

func TestCodecRoundTrip(t *testing.T) {
	c := NewCodec("test-secret")

	in := testPayload{Email: "a@b.com", Seq: 42}
	encoded, err := c.Encode(in)
	require.NoError(t, err)

	var out testPayload
	require.True(t, c.Decode(encoded, &out))
	assert.Equal(t, in, out)
}

func TestCodecRejectsTamperedSignature(t *testing.T) {
	c := NewCodec("test-secret")

	encoded, err := c.Encode(testPayload{Email: "a@b.com"})
	require.NoError(t, err)

	// Flip one bit in every signature position; all must fail.
	dot := strings.LastIndexByte(encoded, '.')
	sig := []byte(encoded[dot+1:])
	for i := range sig {
		flipped := make([]byte, len(sig))
		copy(flipped, sig)
		flipped[i] ^= 0x01

		var out testPayload
		assert.False(t, c.Decode(encoded[:dot+1]+string(flipped), &out), "bit flip at %d accepted", i)
	}
}

func TestCodecRejectsTamperedPayload(t *testing.T) {
	c := NewCodec("test-secret")

	encoded, err := c.Encode(testPayload{Email: "a@b.com"})
	require.NoError(t, err)

	dot := strings.LastIndexByte(encoded, '.')
	payload := []byte(encoded[:dot])
	payload[0] ^= 0x01

	var out testPayload
	assert.False(t, c.Decode(string(payload)+encoded[dot:], &out))
}

func TestCodecRejectsMalformed(t *testing.T) {
	c := NewCodec("test-secret")

	for _, s := range []string{"", ".", "abc", "abc.", ".abc", "!!!.???", "a.b.c"} {
		var out testPayload
		assert.False(t, c.Decode(s, &out), "input %q", s)
	}
}

func TestCodecPurposeSeparation(t *testing.T) {
	flow := NewCodec("flow-secret")
	session := NewCodec("session-secret")

	encoded, err := flow.Encode(testPayload{Email: "a@b.com"})
	require.NoError(t, err)

	var out testPayload
	assert.False(t, session.Decode(encoded, &out), "envelope for one purpose must not decode under another secret")
}

func TestTimestampedCodecRoundTrip(t *testing.T) {
	c := NewTimestampedCodec("cb-secret", 2*time.Minute)

	encoded, err := c.Encode(testPayload{Email: "a@b.com", Seq: 7})
	require.NoError(t, err)

	var out testPayload
	require.True(t, c.Decode(encoded, &out))
	assert.Equal(t, 7, out.Seq)
}

func TestTimestampedCodecRejectsStale(t *testing.T) {
	c := NewTimestampedCodec("cb-secret", 2*time.Minute)

	encoded, err := c.Encode(testPayload{Email: "a@b.com"})
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	var out testPayload
	assert.False(t, c.Decode(encoded, &out))
}

func TestTimestampedCodecRejectsFuture(t *testing.T) {
	c := NewTimestampedCodec("cb-secret", 2*time.Minute)

	encoded, err := c.Encode(testPayload{Email: "a@b.com"})
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(-5 * time.Minute) }
	var out testPayload
	assert.False(t, c.Decode(encoded, &out))
}
