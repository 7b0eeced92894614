// Package signature implements the HMAC-SHA256 codec used to sign
// outbound webhook payloads and to verify inbound callbacks signed
// the same way. Signing and verification must stay byte-identical:
// both operate on the exact serialized body bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the hex-encoded HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature over the exact raw bytes and
// compares it to the presented hex signature in constant time.
func Verify(body []byte, signatureHex, secret string) bool {
	if signatureHex == "" || secret == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}
