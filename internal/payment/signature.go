package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	signaturePrefix = "sha256="
)

// Sign returns the X-Signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a header produced by Sign. The "sha256=" prefix is optional.
func Verify(secret, body []byte, header string) bool {
	if len(secret) == 0 || header == "" {
		return false
	}
	got := strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix)
	want := strings.TrimPrefix(Sign(secret, body), signaturePrefix)
	return hmac.Equal([]byte(want), []byte(got))
}
