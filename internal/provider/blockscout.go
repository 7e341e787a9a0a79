package provider

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBlockscoutURLs maps EVM chain names to public Blockscout instances.
var DefaultBlockscoutURLs = map[string]string{
	"ethereum": "https://eth.blockscout.com",
	"base":     "https://base.blockscout.com",
	"arbitrum": "https://arbitrum.blockscout.com",
	"optimism": "https://optimism.blockscout.com",
}

// BlockscoutReader reads ERC-20 token stats from a Blockscout v2 API.
type BlockscoutReader struct {
	chain   string
	fetcher *Fetcher
	baseURL string
	tracer  trace.Tracer
}

func NewBlockscoutReader(tracer trace.Tracer, chain, baseURL string, cfg FetchConfig) *BlockscoutReader {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBlockscoutURLs[chain]
	}
	cfg = cfg.withDefaults()
	return &BlockscoutReader{
		chain:   chain,
		fetcher: NewFetcher("blockscout-"+chain, nil, NewRateLimiter(5, time.Second), cfg),
		baseURL: baseURL,
		tracer:  tracer,
	}
}

func (r *BlockscoutReader) Chain() string { return r.chain }

func (r *BlockscoutReader) TokenStats(ctx context.Context, address string, decimals int) (domain.OnChainMetrics, error) {
	ctx, span := r.tracer.Start(ctx, "onchain.blockscout.token")
	defer span.End()
	span.SetAttributes(attribute.String("chain", r.chain))

	name := "blockscout-" + r.chain
	if r.baseURL == "" {
		return domain.OnChainMetrics{}, &domain.ConfigurationError{Provider: name, Setting: "BLOCKSCOUT_URLS"}
	}

	u := fmt.Sprintf("%s/api/v2/tokens/%s", r.baseURL, url.PathEscape(strings.TrimSpace(address)))
	resp, err := r.fetcher.Get(ctx, u, nil)
	if err != nil {
		return domain.OnChainMetrics{}, requestError(name, err)
	}

	// Newer instances report holders_count, older ones holders.
	var payload struct {
		Holders      any    `json:"holders"`
		HoldersCount any    `json:"holders_count"`
		TotalSupply  string `json:"total_supply"`
		Decimals     string `json:"decimals"`
	}
	if err := decodeJSON(name, resp, &payload); err != nil {
		return domain.OnChainMetrics{}, err
	}

	var out domain.OnChainMetrics
	holders := payload.HoldersCount
	if holders == nil {
		holders = payload.Holders
	}
	if holders != nil {
		out.Holders = ptr(int64(asFloat(holders)))
	}
	if payload.Decimals != "" {
		decimals = int(parseFloatString(payload.Decimals))
	}
	if supply := parseFloatString(payload.TotalSupply); supply > 0 {
		out.TotalSupply = ptr(supply / math.Pow10(decimals))
	}
	if out.Holders == nil && out.TotalSupply == nil {
		return domain.OnChainMetrics{}, &domain.ProviderError{Provider: name, Reason: "token has no holder or supply data", Err: errEmptyResult}
	}
	return out, nil
}
