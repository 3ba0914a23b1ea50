package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// IsRetryableStatus reports whether an upstream status is worth another try.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsIdempotent reports whether repeating method has the same effect as
// sending it once.
func IsIdempotent(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// ShouldRetryStatus combines status and method eligibility. Non-idempotent
// requests are only retried on 429 and 503, where the upstream has not acted
// on the request. A 500/502/504 after a POST may mean the generation already
// ran and is never repeated.
func ShouldRetryStatus(method string, code int) bool {
	if !IsRetryableStatus(code) {
		return false
	}
	if IsIdempotent(method) {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// IsRetryableError reports whether a transport error from one attempt may be
// retried. parent is the caller's context: once it is done the failure is the
// caller's cancellation and never retried.
func IsRetryableError(parent context.Context, err error) bool {
	if err == nil {
		return false
	}
	if parent != nil && parent.Err() != nil {
		return false
	}
	return classifyTransport(parent, err) != KindCanceled
}

func classifyTransport(parent context.Context, err error) Kind {
	if parent != nil && parent.Err() != nil {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		// The attempt context is only canceled by the parent or by us after
		// the attempt finished, so a bare Canceled here is the caller's.
		return KindCanceled
	}
	return KindNetwork
}

func classifyStatus(code int) Kind {
	switch code {
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindUnavailable
	}
	return KindStatus
}
