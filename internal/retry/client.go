package retry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3

	maxBodyBytes = 4 << 20
)

// Request is a fully built upstream call. Body is replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a buffered 2xx upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	// Number is the zero-based attempt that failed.
	Number int
	// StatusCode is set when the upstream answered; otherwise Kind names the
	// transport failure.
	StatusCode int
	Kind       Kind
	Delay      time.Duration
	// RetryAfter is set when Delay came from the upstream's Retry-After header.
	RetryAfter bool
}

// Cause renders the failure for logs and metric labels.
func (a Attempt) Cause() string {
	if a.StatusCode != 0 {
		return strconv.Itoa(a.StatusCode)
	}
	return a.Kind.String()
}

// Options bound a single Do call.
type Options struct {
	// Timeout applies to each attempt separately.
	Timeout    time.Duration
	MaxRetries int
}

type Config struct {
	HTTPClient *http.Client
	Policy     Policy
	OnRetry    func(Attempt)
}

// Client executes requests with per-attempt deadlines, retry eligibility by
// method and status, and backoff between attempts. It keeps no state between
// calls.
type Client struct {
	http    *http.Client
	policy  Policy
	onRetry func(Attempt)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Policy.Base <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	return &Client{
		http:    cfg.HTTPClient,
		policy:  cfg.Policy,
		onRetry: cfg.OnRetry,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// WithObserver returns a copy of c that reports retries to fn as well as to
// the configured OnRetry hook.
func (c *Client) WithObserver(fn func(Attempt)) *Client {
	cp := *c
	prev := c.onRetry
	cp.onRetry = func(a Attempt) {
		if prev != nil {
			prev(a)
		}
		fn(a)
	}
	return &cp
}

// Do runs req until it succeeds, fails with a non-retryable outcome, or the
// retry budget is spent. Every failure is an *Error.
func (c *Client) Do(ctx context.Context, req Request, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if _, err := http.NewRequest(method, req.URL, nil); err != nil {
		return nil, &Error{Kind: KindStatus, Err: fmt.Errorf("build request: %w", err)}
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, method, req, opts.Timeout)
		attempts := attempt + 1
		last := attempt >= opts.MaxRetries

		if err != nil {
			kind := classifyTransport(ctx, err)
			if kind == KindCanceled || last {
				return nil, &Error{Kind: kind, Attempts: attempts, Exhausted: kind != KindCanceled, Err: err}
			}
			delay := c.policy.Delay(attempt)
			c.notify(Attempt{Number: attempt, Kind: kind, Delay: delay})
			if err := c.sleep(ctx, delay); err != nil {
				return nil, &Error{Kind: KindCanceled, Attempts: attempts, Err: err}
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Attempts = attempts
			return resp, nil
		}

		retryable := ShouldRetryStatus(method, resp.StatusCode)
		if !retryable || last {
			return nil, &Error{
				Kind:       classifyStatus(resp.StatusCode),
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       resp.Body,
				Attempts:   attempts,
				Exhausted:  retryable,
			}
		}

		delay, fromHeader := ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		if !fromHeader {
			delay = c.policy.Delay(attempt)
		}
		// an upstream asking for longer than the backoff cap still waits only
		// the cap, so the caller gets an answer before its own deadline
		if c.policy.Max > 0 && delay > c.policy.Max {
			delay = c.policy.Max
		}
		c.notify(Attempt{
			Number:     attempt,
			StatusCode: resp.StatusCode,
			Kind:       classifyStatus(resp.StatusCode),
			Delay:      delay,
			RetryAfter: fromHeader,
		})
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{Kind: KindCanceled, StatusCode: resp.StatusCode, Attempts: attempts, Err: err}
		}
	}
}

// once performs one attempt under its own deadline and buffers the body so
// the deadline can be released before returning.
func (c *Client) once(ctx context.Context, method string, req Request, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) notify(a Attempt) {
	if c.onRetry != nil {
		c.onRetry(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
