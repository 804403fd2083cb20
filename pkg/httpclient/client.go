// Package httpclient provides the outbound HTTP transport used by the SDK:
// a retrying client, an optional circuit breaker, and response-error
// parsing back into the service's typed errors.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Config tunes the retrying client.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int
}

// DefaultConfig suits a single upstream service on the local network.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    time.Second,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 100,
	}
}

// Client is an http.Client wrapper that retries transport errors and 5xx
// responses with capped exponential backoff. 4xx responses pass through
// untouched; they are the caller's problem, not the network's.
type Client struct {
	inner *http.Client
	cfg   Config
}

// New builds a client with pooled connections.
func New(cfg Config) *Client {
	return &Client{
		inner: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
				MaxConnsPerHost:     cfg.MaxConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		cfg: cfg,
	}
}

// Do executes the request, retrying where it is safe to do so. A request
// with a body is only retried when GetBody can rewind it (true for the
// bytes and strings readers the SDK uses).
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := c.rewind(req); err != nil {
				return nil, lastErr
			}
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.inner.Do(req)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("http request failed after %d attempts: %w", attempt+1, err)
			if !retryable(err) || attempt == c.cfg.MaxRetries {
				return nil, lastErr
			}
		case resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented && attempt < c.cfg.MaxRetries:
			lastErr = fmt.Errorf("server returned %d", resp.StatusCode)
			_ = resp.Body.Close()
		default:
			return resp, nil
		}
	}
}

// Get issues a GET through the retry loop.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Post issues a POST through the retry loop. The body must be rewindable
// for retries to apply.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create POST request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(ctx, req)
}

// backoff doubles RetryWaitMin per attempt, capped at RetryWaitMax, then
// spreads the wait with up to 25% jitter so retries from many clients don't
// land in lockstep.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.cfg.RetryWaitMin << (attempt - 1)
	if wait > c.cfg.RetryWaitMax {
		wait = c.cfg.RetryWaitMax
	}
	if spread := int64(wait) / 4; spread > 0 {
		wait += time.Duration(rand.Int64N(spread)) // #nosec G404 -- jitter, not crypto
	}
	return wait
}

// rewind resets the request body before a retry.
func (c *Client) rewind(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		if req.Body != nil {
			return errors.New("request body cannot be rewound")
		}
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// retryable reports whether a transport error is worth another attempt.
// Context cancellation and deadline expiry are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
