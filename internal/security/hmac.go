package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifyWebhookHMAC checks a Shopify webhook signature: HMAC-SHA256 over the
// raw request body, base64-encoded, compared against the
// X-Shopify-Hmac-Sha256 header value. The body must be the exact bytes
// Shopify sent; re-serializing a parsed payload breaks the comparison.
func VerifyWebhookHMAC(rawBody []byte, providedB64, secret string) bool {
	if providedB64 == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(providedB64))
}
