package messenger

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the raw request body.
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
)

// Sign returns the header value the platform would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is the signature of the exact raw
// body bytes under secret. It fails closed on an empty or unprefixed header.
func VerifySignature(body []byte, header, secret string) bool {
	if header == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected := []byte(Sign(body, secret))
	// ConstantTimeCompare returns 0 on length mismatch without inspecting content.
	return subtle.ConstantTimeCompare(expected, []byte(header)) == 1
}

// AppSecretProof is the Graph API appsecret_proof for accessToken.
func AppSecretProof(accessToken, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(accessToken))
	return hex.EncodeToString(mac.Sum(nil))
}
