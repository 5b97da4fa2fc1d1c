package runtime

import (
	"errors"
	"math"
	"net"
	"time"

	"github.com/weftwork/weft/pkg/model/provider"
)

// ErrMaxAttempts is returned once the retry ceiling is exhausted; it
// wraps the last transport error.
var ErrMaxAttempts = errors.New("transport retry attempts exhausted")

// RetryPolicy bounds how transient transport failures are retried. The
// engine makes one initial attempt plus at most MaxAttempts retries, each
// preceded by an exponentially growing delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the backoff before retry attempt n (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

// isTransient reports whether the transport failure is worth retrying:
// rate limits, connection resets, timeouts. Anything else escalates
// immediately.
func isTransient(err error) bool {
	var transportErr *provider.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Temporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
