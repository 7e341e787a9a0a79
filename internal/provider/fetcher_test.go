package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

// testFetcher records sleeps instead of waiting.
func testFetcher(rt roundTripFunc, sleeps *[]time.Duration) *Fetcher {
	f := NewFetcher("test", &http.Client{Transport: rt}, nil, FetchConfig{})
	f.sleep = func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return ctx.Err()
	}
	return f
}

func TestFetcherRetriesRateLimitThenSucceeds(t *testing.T) {
	var sleeps []time.Duration
	var reasons []string
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls <= 2 {
			return jsonResponse(http.StatusTooManyRequests, `{"error":"slow down"}`), nil
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	}, &sleeps)
	f.onRetry = func(provider, reason string) { reasons = append(reasons, reason) }

	resp, err := f.Get(context.Background(), "https://example.com/x", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps)

	var total time.Duration
	for _, d := range sleeps {
		total += d
	}
	assert.GreaterOrEqual(t, total, 3*time.Second)
	assert.Equal(t, []string{"status_429", "status_429"}, reasons)
}

func TestFetcherReturnsLastResponseWhenRetriesExhausted(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusTooManyRequests, `{"attempt":"last"}`), nil
	}, &sleeps)

	resp, err := f.Get(context.Background(), "https://example.com/x", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 4, calls, "one attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps)
}

func TestFetcherRetriesTransientStatuses(t *testing.T) {
	statuses := []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK}
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		code := statuses[calls]
		calls++
		return jsonResponse(code, `{}`), nil
	}, nil)

	resp, err := f.Get(context.Background(), "https://example.com/x", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestFetcherDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusNotFound, `{}`), nil
	}, nil)

	resp, err := f.Get(context.Background(), "https://example.com/x", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestFetcherPropagatesNetworkErrorAfterRetries(t *testing.T) {
	var sleeps []time.Duration
	calls := 0
	netErr := errors.New("connection reset")
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		return nil, netErr
	}, &sleeps)

	_, err := f.Get(context.Background(), "https://example.com/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, 4, calls)
	assert.Len(t, sleeps, 3)
}

func TestFetcherNetworkErrorThenSuccess(t *testing.T) {
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("dial tcp: i/o timeout")
		}
		return jsonResponse(http.StatusOK, `{}`), nil
	}, nil)

	resp, err := f.Get(context.Background(), "https://example.com/x", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 2, calls)
}

func TestFetcherStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		cancel()
		return jsonResponse(http.StatusTooManyRequests, `{}`), nil
	}, nil)

	_, err := f.Get(ctx, "https://example.com/x", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestFetcherSetsAcceptHeader(t *testing.T) {
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Accept"))
		assert.Equal(t, "secret", req.Header.Get("X-Key"))
		return jsonResponse(http.StatusOK, `{}`), nil
	}, nil)

	header := http.Header{}
	header.Set("X-Key", "secret")
	resp, err := f.Get(context.Background(), "https://example.com/x", header)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDiagnosticMessages(t *testing.T) {
	assert.Equal(t, "timeout", diagnostic(context.DeadlineExceeded))
	long := bytes.Repeat([]byte("x"), 400)
	assert.Len(t, diagnostic(errors.New(string(long))), 240)
}

func TestFetcherRewindsBodyOnRetry(t *testing.T) {
	var bodies []string
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		b, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			return jsonResponse(http.StatusServiceUnavailable, `{}`), nil
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	}, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://example.com/rpc", bytes.NewReader([]byte(`{"method":"getTokenSupply"}`)))
	require.NoError(t, err)
	resp, err := f.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{`{"method":"getTokenSupply"}`, `{"method":"getTokenSupply"}`}, bodies)
}

func TestFetcherDoesNotRetryUnrewindableBody(t *testing.T) {
	calls := 0
	f := testFetcher(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusTooManyRequests, `{}`), nil
	}, nil)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, "https://example.com/rpc", io.NopCloser(bytes.NewBufferString("x")))
	require.NoError(t, err)
	resp, err := f.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, calls)
}
