package signature

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// ECDSAScheme verifies base64 ECDSA signatures against a P-256 public key.
type ECDSAScheme struct {
	key    *ecdsa.PublicKey
	keyErr error
}

// NewECDSAScheme parses a base64 public key. PKIX (DER) is tried first, then
// a raw uncompressed point. A key that parses as neither leaves the scheme in
// place but failing every verification with ErrInvalidKey.
func NewECDSAScheme(secret string) *ECDSAScheme {
	key, err := parsePublicKey(secret)
	return &ECDSAScheme{key: key, keyErr: err}
}

// Name implements Scheme.
func (s *ECDSAScheme) Name() string { return "ecdsa" }

// Verify implements Scheme.
func (s *ECDSAScheme) Verify(payload []byte, sig string) error {
	if s.keyErr != nil {
		return s.keyErr
	}
	raw, err := decodeBase64(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest := sha256.Sum256(payload)

	if ecdsa.VerifyASN1(s.key, digest[:], raw) {
		return nil
	}
	// Some senders emit the fixed-size r||s form instead of ASN.1.
	if len(raw) == 64 {
		r := new(big.Int).SetBytes(raw[:32])
		ss := new(big.Int).SetBytes(raw[32:])
		if ecdsa.Verify(s.key, digest[:], r, ss) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func parsePublicKey(secret string) (*ecdsa.PublicKey, error) {
	der, err := decodeBase64(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if key, ok := pub.(*ecdsa.PublicKey); ok && key.Curve == elliptic.P256() {
			return key, nil
		}
		return nil, ErrInvalidKey
	}

	// Raw uncompressed point: 0x04 || X || Y.
	if _, err := ecdh.P256().NewPublicKey(der); err != nil {
		return nil, ErrInvalidKey
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(der[1:33]),
		Y:     new(big.Int).SetBytes(der[33:65]),
	}, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
