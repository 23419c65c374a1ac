// Package upstream is the shared HTTP plumbing for calls to external providers:
// an outbound token bucket, bounded response reads, typed status errors and an
// observer hook for metrics.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// observed outcomes
const (
	OutcomeOK        = "ok"
	OutcomeHTTPError = "http_error"
	OutcomeError     = "error"
	OutcomeThrottled = "throttled"
)

// DefaultMaxResponseBytes bounds how much of a response body is read.
const DefaultMaxResponseBytes = 4 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Provider string
	Code     int
	// Body is a truncated copy of the response body for logs, never for clients
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Provider, e.Code)
}

// Retryable reports whether the status suggests trying again later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

var ErrResponseTooLarge = errors.New("upstream response too large")

type Options struct {
	Provider string
	// RPS and Burst configure the outbound limiter, RPS <= 0 means unlimited
	RPS     float64
	Burst   int
	Timeout time.Duration
	// MaxResponseBytes defaults to DefaultMaxResponseBytes
	MaxResponseBytes int64
	// HTTPClient overrides the traced default client, mainly for tests
	HTTPClient *http.Client
	// Observe is called once per Do with the outcome and elapsed time
	Observe func(outcome string, d time.Duration)
}

type Client struct {
	provider string
	http     *http.Client
	limiter  *rate.Limiter
	maxBytes int64
	observe  func(string, time.Duration)
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	maxBytes := opts.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}
	observe := opts.Observe
	if observe == nil {
		observe = func(string, time.Duration) {}
	}
	return &Client{provider: opts.Provider, http: hc, limiter: lim, maxBytes: maxBytes, observe: observe}
}

func (c *Client) Provider() string { return c.provider }

// PostJSON waits for the outbound limiter, posts body as JSON and returns the response
// body and content type. Non-2xx responses become *StatusError.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, body any) ([]byte, string, error) {
	start := time.Now()
	out, ct, outcome, err := c.post(ctx, url, header, body)
	c.observe(outcome, time.Since(start))
	return out, ct, err
}

func (c *Client) post(ctx context.Context, url string, header http.Header, body any) ([]byte, string, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", OutcomeThrottled, xerrors.Wrapf(err, "%s: outbound limiter", c.provider)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, "", OutcomeError, xerrors.Wrapf(err, "%s: encode request", c.provider)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, "", OutcomeError, xerrors.Wrapf(err, "%s: build request", c.provider)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", OutcomeError, xerrors.Wrapf(err, "%s: send request", c.provider)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", OutcomeError, xerrors.Wrapf(err, "%s: read response", c.provider)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := data
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, "", OutcomeHTTPError, &StatusError{Provider: c.provider, Code: resp.StatusCode, Body: string(snippet)}
	}
	if int64(len(data)) > c.maxBytes {
		return nil, "", OutcomeError, xerrors.Wrapf(ErrResponseTooLarge, "%s: over %d bytes", c.provider, c.maxBytes)
	}
	return data, resp.Header.Get("Content-Type"), OutcomeOK, nil
}
