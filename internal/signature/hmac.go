package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// HMACScheme verifies HMAC-SHA256 signatures made with a shared secret.
// Providers disagree on encoding, so the supplied signature is accepted as
// hex or as base64 of the raw MAC.
type HMACScheme struct {
	secret []byte
}

// NewHMACScheme returns a scheme keyed by secret.
func NewHMACScheme(secret string) *HMACScheme {
	return &HMACScheme{secret: []byte(secret)}
}

// Name implements Scheme.
func (s *HMACScheme) Name() string { return "hmac" }

// Verify implements Scheme.
func (s *HMACScheme) Verify(payload []byte, sig string) error {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	expected := []byte(hex.EncodeToString(mac.Sum(nil)))

	sig = strings.TrimSpace(sig)
	if subtle.ConstantTimeCompare(expected, []byte(strings.ToLower(sig))) == 1 {
		return nil
	}
	if raw, err := base64.StdEncoding.DecodeString(sig); err == nil {
		if subtle.ConstantTimeCompare(expected, []byte(hex.EncodeToString(raw))) == 1 {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign returns the hex signature for payload. Used by tests and tooling that
// replay deliveries against a local endpoint.
func (s *HMACScheme) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
