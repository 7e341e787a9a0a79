package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"defi-scout/internal/domain"
)

var errEmptyResult = errors.New("empty result set")

// TokenDataSource is one external data source. Fetch never panics or returns
// an error: every failure is folded into the ProviderResult.
type TokenDataSource interface {
	Name() string
	Fetch(ctx context.Context, token domain.TokenAlias) domain.ProviderResult
}

func newResult(source string, start time.Time, payload *domain.PartialTokenData, err error) domain.ProviderResult {
	res := domain.ProviderResult{
		Source:  source,
		Latency: time.Since(start),
	}
	if err != nil {
		res.Error = diagnostic(err)
		return res
	}
	res.Success = true
	res.Payload = payload
	return res
}

// diagnostic shortens err to a single-line message for end-of-pipeline logs.
func diagnostic(err error) string {
	var cfgErr *domain.ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return sanitizeText(err.Error(), 240)
}

// decodeJSON classifies resp and decodes a 2xx body into v.
func decodeJSON(provider string, resp *http.Response, v any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.ProviderError{
			Provider:   provider,
			Reason:     fmt.Sprintf("API error: %s", sanitizeText(string(body), 160)),
			StatusCode: resp.StatusCode,
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &domain.ProviderError{Provider: provider, Reason: "decode response", Err: err}
	}
	return nil
}

func requestError(provider string, err error) error {
	return &domain.ProviderError{Provider: provider, Reason: "request failed", Err: err}
}
