package provider

import (
	"context"
	"strings"
	"time"

	"defi-scout/internal/cache"
	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defillamaBaseURL     = "https://api.llama.fi"
	defaultDirectoryTTL  = 5 * time.Minute
	protocolDirectoryKey = "protocols"
)

type llamaProtocol struct {
	Name     string   `json:"name"`
	Slug     string   `json:"slug"`
	Symbol   string   `json:"symbol"`
	URL      string   `json:"url"`
	Category string   `json:"category"`
	Chains   []string `json:"chains"`
	TVL      *float64 `json:"tvl"`
	Change1D *float64 `json:"change_1d"`
	ListedAt int64    `json:"listedAt"`
}

// DefiLlamaProvider matches a token against the DefiLlama protocol directory.
// The directory is one large document, so it is fetched once per TTL and
// shared by every lookup.
type DefiLlamaProvider struct {
	fetcher   *Fetcher
	baseURL   string
	tracer    trace.Tracer
	directory *cache.ResponseCache[[]llamaProtocol]
}

func NewDefiLlamaProvider(tracer trace.Tracer, baseURL string, directoryTTL time.Duration, cfg FetchConfig, opts ...cache.Option) *DefiLlamaProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defillamaBaseURL
	}
	if directoryTTL <= 0 {
		directoryTTL = defaultDirectoryTTL
	}
	cfg = cfg.withDefaults()
	return &DefiLlamaProvider{
		fetcher:   NewFetcher("defillama", nil, NewRateLimiter(60, time.Second), cfg),
		baseURL:   baseURL,
		tracer:    tracer,
		directory: cache.NewResponseCache[[]llamaProtocol]("defillama-directory", directoryTTL, opts...),
	}
}

func (p *DefiLlamaProvider) Name() string { return "defillama" }

func (p *DefiLlamaProvider) Fetch(ctx context.Context, token domain.TokenAlias) domain.ProviderResult {
	ctx, span := p.tracer.Start(ctx, "defillama.fetch-protocol")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", token.Symbol))

	start := time.Now()
	protocols, _, err := p.directory.Do(ctx, protocolDirectoryKey, p.fetchDirectory)
	if err != nil {
		span.RecordError(err)
		return newResult(p.Name(), start, nil, err)
	}

	match, ok := matchProtocol(protocols, token)
	if !ok {
		return newResult(p.Name(), start, nil, &domain.ProviderError{Provider: p.Name(), Reason: "no matching protocol", Err: errEmptyResult})
	}
	return newResult(p.Name(), start, &domain.PartialTokenData{Protocol: &domain.ProtocolData{
		Name: match.Name,
		Slug: match.Slug,
		URL:  match.URL,
		Metrics: domain.ProtocolMetrics{
			TVL:      match.TVL,
			Change1D: match.Change1D,
			Category: match.Category,
			Chains:   append([]string(nil), match.Chains...),
		},
	}}, nil)
}

func (p *DefiLlamaProvider) fetchDirectory(ctx context.Context) ([]llamaProtocol, error) {
	resp, err := p.fetcher.Get(ctx, p.baseURL+"/protocols", nil)
	if err != nil {
		return nil, requestError(p.Name(), err)
	}
	var protocols []llamaProtocol
	if err := decodeJSON(p.Name(), resp, &protocols); err != nil {
		return nil, err
	}
	if len(protocols) == 0 {
		return nil, &domain.ProviderError{Provider: p.Name(), Reason: "empty protocol directory", Err: errEmptyResult}
	}
	return protocols, nil
}

// matchProtocol tries the slug hint, then an exact symbol match, then a name
// substring match. Within the first tier that matches, the most recently
// listed protocol wins.
func matchProtocol(protocols []llamaProtocol, token domain.TokenAlias) (llamaProtocol, bool) {
	slug := strings.ToLower(strings.TrimSpace(token.DefiLlamaSlug))
	symbol := strings.ToUpper(token.Symbol)
	name := strings.ToLower(strings.TrimSpace(token.Name))

	tiers := []func(llamaProtocol) bool{
		func(p llamaProtocol) bool { return slug != "" && strings.EqualFold(p.Slug, slug) },
		func(p llamaProtocol) bool { return p.Symbol != "" && p.Symbol != "-" && strings.EqualFold(p.Symbol, symbol) },
		func(p llamaProtocol) bool {
			lower := strings.ToLower(p.Name)
			return name != "" && strings.Contains(lower, name)
		},
	}
	for _, matches := range tiers {
		var best llamaProtocol
		found := false
		for _, p := range protocols {
			if !matches(p) {
				continue
			}
			if !found || p.ListedAt > best.ListedAt {
				best = p
				found = true
			}
		}
		if found {
			return best, true
		}
	}
	return llamaProtocol{}, false
}
