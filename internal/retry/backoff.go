package retry

import (
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBase   = 300 * time.Millisecond
	DefaultMax    = 30 * time.Second
	DefaultJitter = 0.2
)

// Policy computes the delay between attempts: Base * 2^attempt, scaled by a
// symmetric random factor in [1-Jitter, 1+Jitter] and clamped to Max.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultPolicy is the policy used by both the proxy and the CLI.
func DefaultPolicy() Policy {
	return Policy{Base: DefaultBase, Max: DefaultMax, Jitter: DefaultJitter}
}

// BaseDelay returns the un-jittered delay for attempt.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	d := float64(base) * math.Pow(2, float64(attempt))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Delay returns the jittered delay for attempt.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay(attempt))

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		d += d * p.Jitter * (r()*2 - 1)
	}

	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// maxRetryAfterSeconds is the largest whole-second value a Duration can hold.
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// ParseRetryAfter reads a Retry-After header value. Integer values are whole
// seconds, saturating at the largest representable Duration; otherwise the
// value must be an HTTP date and the delay is the time left until it, never
// negative. ok is false when the value is unusable.
func ParseRetryAfter(value string, now time.Time) (d time.Duration, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil && errors.Is(err, strconv.ErrRange) {
		// out of int64 range; the sign decides which way to saturate
		if strings.HasPrefix(value, "-") {
			secs = 0
		} else {
			secs = maxRetryAfterSeconds
		}
		err = nil
	}
	if err == nil {
		if secs < 0 {
			secs = 0
		}
		if secs > maxRetryAfterSeconds {
			secs = maxRetryAfterSeconds
		}
		return time.Duration(secs) * time.Second, true
	}

	t, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if d = t.Sub(now); d < 0 {
		d = 0
	}
	return d, true
}
