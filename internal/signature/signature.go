package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verify checks the X-HMAC-SHA256-SIGNATURE header of an inbound
// callback against the exact raw bytes of its body. The gateway signs
// the payload as-delivered, so the body must be captured before any
// JSON decoding; re-encoding the payload invalidates the signature.
//
// The gateway emits uppercase hex. Comparison is case-insensitive and
// constant-time. Verify never fails with an error: a malformed header
// is simply an invalid signature.
func Verify(rawBody []byte, providedHex string, secret []byte) bool {
	provided, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(providedHex)))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(rawBody)

	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the uppercase hex HMAC-SHA256 of body, as the gateway
// would. Used by tests and by outbound calls that require signing.
func Sign(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
