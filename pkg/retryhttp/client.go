/**
 * @description
 * This package provides the outbound HTTP client with bounded
 * exponential-backoff retry used for payment-gateway calls. Server-side
 * failures (5xx) and network faults are retried with delays of
 * baseDelay * 2^attempt (1s, 2s, 4s with the defaults); client errors (4xx)
 * are returned immediately since retrying cannot fix a malformed request.
 *
 * @dependencies
 * - github.com/go-resty/resty/v2: HTTP transport.
 * - github.com/avast/retry-go: bounded retry with exponential backoff.
 */

package retryhttp

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
)

// DefaultMaxAttempts and DefaultBaseDelay give the 1s/2s backoff schedule
// used against the payment gateway.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// ServerError marks a 5xx response so the retry loop can distinguish it from
// terminal outcomes. It is surfaced as the last observed failure after the
// attempt budget is exhausted.
type ServerError struct {
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// Client wraps a resty transport with the retry policy. A Client is stateless
// per invocation and safe for concurrent use.
type Client struct {
	rest        *resty.Client
	maxAttempts uint
	baseDelay   time.Duration
	onRetry     func(attempt uint, err error)
}

// NewClient creates a retrying HTTP client. maxAttempts counts the initial
// attempt; baseDelay is the wait before the first retry and doubles each
// retry after that.
func NewClient(timeout time.Duration, maxAttempts uint, baseDelay time.Duration) *Client {
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return &Client{
		// Retries are driven by retry-go below, not resty's own mechanism.
		rest:        resty.New().SetTimeout(timeout).SetRetryCount(0),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// SetOnRetry installs an observer invoked before each retry wait.
func (c *Client) SetOnRetry(fn func(attempt uint, err error)) { c.onRetry = fn }

// R returns a request bound to the underlying transport. The request must be
// executed through Execute to get retry semantics.
func (c *Client) R() *resty.Request { return c.rest.R() }

// Execute runs the request against method+url under the retry policy.
//
// Outcomes:
//   - 2xx/3xx/4xx: returned immediately with a nil error; the caller is
//     responsible for interpreting non-success status codes.
//   - 5xx: retried; after the budget is spent, the last response is returned
//     together with a *ServerError.
//   - network fault: retried; after the budget is spent, the last transport
//     error is returned with a nil response.
func (c *Client) Execute(ctx context.Context, req *resty.Request, method, url string) (*resty.Response, error) {
	var resp *resty.Response

	err := retry.Do(
		func() error {
			r, err := req.SetContext(ctx).Execute(method, url)
			if err != nil {
				return err
			}
			resp = r
			if r.StatusCode() >= 500 {
				return &ServerError{StatusCode: r.StatusCode(), Body: r.Body()}
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.maxAttempts),
		retry.Delay(c.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("level=warn component=retryhttp msg=\"retrying request\" method=%s url=%s attempt=%d err=%v", method, url, n+1, err)
			if c.onRetry != nil {
				c.onRetry(n, err)
			}
		}),
	)
	if err != nil {
		// Surface the last observed failure rather than nothing: keep the
		// final 5xx response when there was one.
		return resp, err
	}
	return resp, nil
}
