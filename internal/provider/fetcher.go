package provider

import (
	"context"
	"io"
	"net/http"
	"time"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
	DefaultTimeout        = 10 * time.Second
)

// FetchConfig configures the HTTP behaviour shared by every provider.
type FetchConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	// OnRetry is called before each retry with the provider name and the reason
	// ("status_429", "status_503", "network").
	OnRetry func(provider, reason string)
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	return c
}

// Fetcher sends requests with fixed exponential backoff on 429 and transient
// upstream statuses. When retries run out the last response is returned as-is
// and the caller classifies the status. Network errors are retried on the same
// schedule and returned once retries run out.
type Fetcher struct {
	name           string
	client         *http.Client
	limiter        *RateLimiter
	maxRetries     int
	initialBackoff time.Duration
	onRetry        func(provider, reason string)
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewFetcher wraps client. limiter may be nil.
func NewFetcher(name string, client *http.Client, limiter *RateLimiter, cfg FetchConfig) *Fetcher {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		name:           name,
		client:         client,
		limiter:        limiter,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		onRetry:        cfg.OnRetry,
		sleep:          sleepContext,
	}
}

// Do sends req and retries per the backoff schedule. Requests with a body are
// retried only when req.GetBody can rewind it.
func (f *Fetcher) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	backoff := f.initialBackoff
	maxRetries := f.maxRetries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		out := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			out.Body = body
		}

		resp, err := f.client.Do(out)
		if err != nil {
			if ctx.Err() != nil || attempt >= maxRetries {
				return nil, err
			}
			if err := f.backoff(ctx, "network", backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		if err := f.backoff(ctx, statusReason(resp.StatusCode), backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

// CloseIdleConnections lets a Fetcher stand in for an *http.Client.
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

// Get is a convenience wrapper for a GET with headers.
func (f *Fetcher) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return f.Do(req)
}

func (f *Fetcher) backoff(ctx context.Context, reason string, d time.Duration) error {
	if f.onRetry != nil {
		f.onRetry(f.name, reason)
	}
	return f.sleep(ctx, d)
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func statusReason(code int) string {
	switch code {
	case http.StatusTooManyRequests:
		return "status_429"
	case http.StatusBadGateway:
		return "status_502"
	case http.StatusServiceUnavailable:
		return "status_503"
	default:
		return "status_504"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
