package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoProvider is the market data source: search by symbol, then fetch
// the coin detail by its internal id.
type CoinGeckoProvider struct {
	fetcher *Fetcher
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

// NewCoinGeckoProvider creates a provider limited to 8 requests per minute
// (one token every 7.5 seconds) unless an API key lifts the free tier.
func NewCoinGeckoProvider(tracer trace.Tracer, baseURL, apiKey string, cfg FetchConfig) *CoinGeckoProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = coingeckoBaseURL
	}
	limiter := NewRateLimiter(8, 7500*time.Millisecond)
	if apiKey != "" {
		limiter = NewRateLimiter(30, 2*time.Second)
	}
	cfg = cfg.withDefaults()
	return &CoinGeckoProvider{
		fetcher: NewFetcher("coingecko", &http.Client{Timeout: cfg.Timeout}, limiter, cfg),
		baseURL: baseURL,
		apiKey:  apiKey,
		tracer:  tracer,
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

func (p *CoinGeckoProvider) Fetch(ctx context.Context, token domain.TokenAlias) domain.ProviderResult {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-token")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", token.Symbol))

	start := time.Now()
	data, err := p.fetchToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		return newResult(p.Name(), start, nil, err)
	}
	return newResult(p.Name(), start, &domain.PartialTokenData{Market: data}, nil)
}

func (p *CoinGeckoProvider) fetchToken(ctx context.Context, token domain.TokenAlias) (*domain.MarketData, error) {
	id := token.CoinGeckoID
	if id == "" {
		var err error
		id, err = p.searchID(ctx, token.Symbol)
		if err != nil {
			return nil, err
		}
	}
	return p.coinDetail(ctx, id)
}

// searchID picks the first search hit whose symbol matches case-insensitively
// and falls back to the first hit when none matches exactly.
func (p *CoinGeckoProvider) searchID(ctx context.Context, symbol string) (string, error) {
	u := fmt.Sprintf("%s/search?query=%s", p.baseURL, url.QueryEscape(symbol))

	var payload struct {
		Coins []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	if err := p.getJSON(ctx, u, &payload); err != nil {
		return "", fmt.Errorf("search %s: %w", symbol, err)
	}
	if len(payload.Coins) == 0 {
		return "", &domain.ProviderError{Provider: p.Name(), Reason: "no search results", Err: errEmptyResult}
	}
	for _, c := range payload.Coins {
		if strings.EqualFold(c.Symbol, symbol) {
			return c.ID, nil
		}
	}
	return payload.Coins[0].ID, nil
}

func (p *CoinGeckoProvider) coinDetail(ctx context.Context, id string) (*domain.MarketData, error) {
	u := fmt.Sprintf("%s/coins/%s?localization=false&tickers=false&market_data=true&community_data=false&developer_data=false&sparkline=false",
		p.baseURL, url.PathEscape(id))

	var payload struct {
		ID          string `json:"id"`
		Symbol      string `json:"symbol"`
		Name        string `json:"name"`
		Description struct {
			EN string `json:"en"`
		} `json:"description"`
		MarketData *struct {
			CurrentPrice             map[string]float64 `json:"current_price"`
			MarketCap                map[string]float64 `json:"market_cap"`
			TotalVolume              map[string]float64 `json:"total_volume"`
			PriceChangePercentage24h *float64           `json:"price_change_percentage_24h"`
		} `json:"market_data"`
	}
	if err := p.getJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("coin detail %s: %w", id, err)
	}
	if payload.MarketData == nil {
		return nil, &domain.ProviderError{Provider: p.Name(), Reason: "coin has no market data", Err: errEmptyResult}
	}

	md := payload.MarketData
	metrics := domain.MarketMetrics{
		PriceUSD:     usd(md.CurrentPrice),
		MarketCapUSD: usd(md.MarketCap),
		Volume24hUSD: usd(md.TotalVolume),
		Change24hPct: md.PriceChangePercentage24h,
	}
	if metrics.PriceUSD == nil && metrics.MarketCapUSD == nil && metrics.Volume24hUSD == nil && metrics.Change24hPct == nil {
		return nil, &domain.ProviderError{Provider: p.Name(), Reason: "coin has no USD market data", Err: errEmptyResult}
	}
	return &domain.MarketData{
		ID:          payload.ID,
		Name:        strings.TrimSpace(payload.Name),
		Symbol:      strings.ToUpper(payload.Symbol),
		Description: firstParagraph(payload.Description.EN, 600),
		Metrics:     metrics,
	}, nil
}

func (p *CoinGeckoProvider) getJSON(ctx context.Context, u string, v any) error {
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("x-cg-demo-api-key", p.apiKey)
	}
	resp, err := p.fetcher.Get(ctx, u, header)
	if err != nil {
		return requestError(p.Name(), err)
	}
	return decodeJSON(p.Name(), resp, v)
}

func usd(m map[string]float64) *float64 {
	v, ok := m["usd"]
	if !ok {
		return nil
	}
	return &v
}

func firstParagraph(text string, maxLen int) string {
	text = htmlStrip(text)
	if i := strings.Index(text, "\r\n\r\n"); i >= 0 {
		text = text[:i]
	}
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	return sanitizeText(text, maxLen)
}
