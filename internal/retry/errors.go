package retry

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a request ultimately failed.
type Kind int

const (
	KindStatus Kind = iota
	KindTimeout
	KindCanceled
	KindNetwork
	KindRateLimited
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "status"
	}
}

// Error is the single failure type returned by Client.Do.
type Error struct {
	Kind Kind

	// StatusCode, Header and Body describe the last upstream response, when
	// there was one.
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is how many calls were issued.
	Attempts int

	// Exhausted is set when the failure was retryable but the attempt budget
	// ran out.
	Exhausted bool

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "Request timed out. Please check your internet connection and try again."
	case KindCanceled:
		return "Request was aborted."
	case KindNetwork:
		return "Network error. Please check your internet connection."
	case KindRateLimited:
		return "Rate limit exceeded. Please wait a moment and try again."
	case KindUnavailable:
		return "Server is temporarily unavailable. Please try again later."
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("Server error: HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		return fmt.Sprintf("Server error: %v", e.Err)
	}
	return "Server error"
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, and false when err is not an *Error.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsCanceled reports whether err came from caller cancellation.
func IsCanceled(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCanceled
}
