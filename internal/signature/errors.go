package signature

import "errors"

var (
	ErrMissingCredentials = errors.New("signature or timestamp header missing")
	ErrInvalidTimestamp   = errors.New("timestamp is not epoch seconds")
	ErrStaleTimestamp     = errors.New("timestamp outside freshness window")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrInvalidKey         = errors.New("verification key is not a P-256 public key")
)
