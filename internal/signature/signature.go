// Package signature verifies webhook authenticity with shared-secret HMAC.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks a hex-encoded HMAC-SHA256 signature over body.
//
// The provided signature may carry a "sha256=" prefix (GitHub-style
// X-Hub-Signature-256 headers); it is stripped before comparison. The
// comparison is constant time. Malformed signatures return false, never
// an error.
func Verify(body []byte, provided string, secret string) bool {
	if secret == "" || provided == "" {
		return false
	}

	provided = strings.TrimPrefix(provided, "sha256=")

	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// Sign computes the hex-encoded HMAC-SHA256 of body. Used by tests and by
// operators generating signatures for manual webhook calls.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
