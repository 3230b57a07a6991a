package signature

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify_RoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(""),
		[]byte("{}"),
		[]byte(`{"event":"push","branch":"main"}`),
		make([]byte, 4096),
	}

	for _, body := range bodies {
		sig := Sign(body, "s3cret")
		assert.True(t, Verify(body, sig, "s3cret"))
		assert.True(t, Verify(body, "sha256="+sig, "s3cret"), "sha256= prefix accepted")
		assert.False(t, Verify(body, sig, "other-secret"))
	}
}

func TestVerify_BitFlip(t *testing.T) {
	body := []byte(`{"event":"deploy_building"}`)
	sig := Sign(body, "s3cret")

	raw, err := hex.DecodeString(sig)
	assert.NoError(t, err)

	// Flipping any single bit of the signature must fail verification.
	for i := range raw {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(raw))
			copy(flipped, raw)
			flipped[i] ^= 1 << bit
			assert.False(t, Verify(body, hex.EncodeToString(flipped), "s3cret"),
				"byte %d bit %d", i, bit)
		}
	}
}

func TestVerify_Malformed(t *testing.T) {
	body := []byte("payload")

	tests := []struct {
		name string
		sig  string
	}{
		{"empty", ""},
		{"not hex", "zzzz"},
		{"odd length", "abc"},
		{"wrong length", "deadbeef"},
		{"prefix only", "sha256="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Verify(body, tt.sig, "s3cret"))
		})
	}
}

func TestVerify_EmptySecret(t *testing.T) {
	body := []byte("payload")
	assert.False(t, Verify(body, Sign(body, ""), ""))
}
