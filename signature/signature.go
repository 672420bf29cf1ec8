// Package signature signs and verifies webhook payloads with HMAC-SHA256
// over the exact bytes received. Payloads are never re-serialized before
// signing, since canonicalization would change the signature input.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Sign computes the X-Shulam-Signature header value for a payload:
// unpadded base64url of the HMAC-SHA256 digest under secret.
func Sign(secret, payload []byte) string {
	return base64.RawURLEncoding.EncodeToString(digest(secret, payload))
}

// Verify reports whether signatureHeader is a valid digest of the exact
// payload bytes under secret. Both base64url and hex encoded digests are
// accepted. Verification is a predicate: any malformed header yields
// false rather than a distinguishable error, and the comparison is
// constant time regardless of where a mismatch occurs.
func Verify(payload []byte, signatureHeader string, secret []byte) bool {
	if len(secret) == 0 {
		return false
	}
	provided, ok := decodeDigest(strings.TrimSpace(signatureHeader))
	if !ok {
		return false
	}
	return hmac.Equal(provided, digest(secret, payload))
}

func digest(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}

// decodeDigest accepts a SHA-256 sized digest in unpadded base64url,
// padded base64url, or hex.
func decodeDigest(header string) ([]byte, bool) {
	if header == "" {
		return nil, false
	}
	if raw, err := base64.RawURLEncoding.DecodeString(header); err == nil && len(raw) == sha256.Size {
		return raw, true
	}
	if raw, err := base64.URLEncoding.DecodeString(header); err == nil && len(raw) == sha256.Size {
		return raw, true
	}
	if raw, err := hex.DecodeString(header); err == nil && len(raw) == sha256.Size {
		return raw, true
	}
	return nil, false
}
