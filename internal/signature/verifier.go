package signature

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
)

// DefaultWindow is the accepted skew between the signed timestamp and now.
const DefaultWindow = 10 * time.Minute

// Scheme is one signing scheme. Verify returns nil when sig is a valid
// signature of payload.
type Scheme interface {
	Name() string
	Verify(payload []byte, sig string) error
}

// Result is the outcome of verifying one delivery.
type Result struct {
	Valid  bool
	Reason string
	Err    error
}

// Verifier checks header credentials and freshness, then tries each scheme
// in order.
type Verifier struct {
	secret  string
	window  time.Duration
	schemes []Scheme
	now     func() time.Time
}

// New builds a Verifier for secret. An empty secret disables verification.
func New(secret string, window time.Duration) *Verifier {
	if window <= 0 {
		window = DefaultWindow
	}
	v := &Verifier{secret: secret, window: window, now: time.Now}
	if secret != "" {
		v.schemes = []Scheme{NewECDSAScheme(secret), NewHMACScheme(secret)}
	}
	return v
}

// Enabled reports whether a verification key is configured.
func (v *Verifier) Enabled() bool { return v.secret != "" }

// Verify authenticates body against the signature and timestamp headers.
func (v *Verifier) Verify(body []byte, sig, ts string) Result {
	if !v.Enabled() {
		logger.Warn("[signature] verification bypassed: no verification key configured")
		return Result{Valid: true}
	}

	sig, ts = strings.TrimSpace(sig), strings.TrimSpace(ts)
	if sig == "" || ts == "" {
		return invalid(ErrMissingCredentials)
	}

	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return invalid(ErrInvalidTimestamp)
	}
	// Compared in whole seconds; time.Duration saturates for far-off values.
	skew := v.now().Unix() - secs
	if skew < 0 {
		skew = -skew
	}
	if skew < 0 || skew > int64(v.window/time.Second) {
		logger.Warn("[signature] stale timestamp rejected", "timestamp", ts, "skew_seconds", skew)
		return invalid(ErrStaleTimestamp)
	}

	payload := make([]byte, 0, len(ts)+len(body))
	payload = append(payload, ts...)
	payload = append(payload, body...)

	var reasons []string
	for _, s := range v.schemes {
		err := s.Verify(payload, sig)
		if err == nil {
			return Result{Valid: true}
		}
		reasons = append(reasons, s.Name()+": "+err.Error())
	}
	return Result{Reason: strings.Join(reasons, "; "), Err: ErrSignatureMismatch}
}

func invalid(err error) Result {
	return Result{Reason: err.Error(), Err: err}
}

// IsAuthError reports whether err came from a failed verification.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingCredentials) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrStaleTimestamp) ||
		errors.Is(err, ErrSignatureMismatch)
}
