// Package signature authenticates provider webhook deliveries.
//
// A delivery carries a signature and a timestamp header. The signed payload
// is the timestamp followed by the raw request body. Two schemes are tried in
// order: an ECDSA P-256 public key (the provider's signed event webhook) and
// an HMAC-SHA256 shared secret. The first scheme that accepts the signature
// wins.
package signature
