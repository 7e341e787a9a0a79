package domain

import (
	"encoding/json"
	"time"
)

// Provider source names. They double as cache key prefixes and metric labels.
const (
	SourceMarket   = "market"
	SourceProtocol = "protocol"
	SourceSocial   = "social"
	SourceOnChain  = "onchain"
)

// Disclaimer closes every user-facing token message.
const Disclaimer = "⚠️ This is not financial advice. Crypto assets are highly volatile; always do your own research."

// MarketMetrics holds market figures. Every field is independently optional.
type MarketMetrics struct {
	PriceUSD     *float64 `json:"current_price,omitempty"`
	MarketCapUSD *float64 `json:"market_cap,omitempty"`
	Volume24hUSD *float64 `json:"total_volume,omitempty"`
	Change24hPct *float64 `json:"price_change_percentage_24h,omitempty"`
}

// ProtocolMetrics holds DeFi protocol figures.
type ProtocolMetrics struct {
	TVL      *float64 `json:"tvl,omitempty"`
	Change1D *float64 `json:"change_1d,omitempty"`
	Category string   `json:"category,omitempty"`
	Chains   []string `json:"chains,omitempty"`
}

// SocialMetrics is derived from recent public posts mentioning $SYMBOL.
// SentimentScore is an engagement heuristic in [0,1], not a language model.
type SocialMetrics struct {
	Source         string  `json:"source"`
	Mentions       int     `json:"mentions"`
	SentimentScore float64 `json:"sentiment_score"`
	Sentiment      string  `json:"sentiment"`
}

type OnChainMetrics struct {
	Chain       string   `json:"chain,omitempty"`
	Address     string   `json:"address,omitempty"`
	Holders     *int64   `json:"holders,omitempty"`
	TotalSupply *float64 `json:"total_supply,omitempty"`
}

// MarketData is the market provider payload.
type MarketData struct {
	ID          string
	Name        string
	Symbol      string
	Description string
	Metrics     MarketMetrics
}

// ProtocolData is the protocol provider payload.
type ProtocolData struct {
	Name    string
	Slug    string
	URL     string
	Metrics ProtocolMetrics
}

// PartialTokenData carries exactly the payload of the provider that produced it.
type PartialTokenData struct {
	Market   *MarketData
	Protocol *ProtocolData
	Social   *SocialMetrics
	OnChain  *OnChainMetrics
}

// ProviderResult is the outcome of one provider call.
type ProviderResult struct {
	Source  string            `json:"source"`
	Success bool              `json:"success"`
	Payload *PartialTokenData `json:"-"`
	Error   string            `json:"error,omitempty"`
	Latency time.Duration     `json:"-"`
	Cached  bool              `json:"cached,omitempty"`
}

// MarshalJSON reports latency in milliseconds.
func (r ProviderResult) MarshalJSON() ([]byte, error) {
	type plain ProviderResult
	return json.Marshal(struct {
		plain
		LatencyMs int64 `json:"latency_ms"`
	}{plain: plain(r), LatencyMs: r.Latency.Milliseconds()})
}

// AggregatedTokenProfile is the merged view of every provider that succeeded.
type AggregatedTokenProfile struct {
	Symbol      string           `json:"symbol"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Market      *MarketMetrics   `json:"market_data,omitempty"`
	Protocol    *ProtocolMetrics `json:"protocol,omitempty"`
	Social      *SocialMetrics   `json:"social,omitempty"`
	OnChain     *OnChainMetrics  `json:"onchain,omitempty"`
	Featured    bool             `json:"featured,omitempty"`
	Sources     []ProviderResult `json:"sources,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// AggregationFailure is the non-exceptional "no reliable data" outcome.
type AggregationFailure struct {
	Symbol  string           `json:"symbol"`
	Message string           `json:"message"`
	Results []ProviderResult `json:"sources,omitempty"`
}

// Outcome holds either a profile or a failure, never both.
type Outcome struct {
	Profile *AggregatedTokenProfile
	Failure *AggregationFailure
}

func (o Outcome) OK() bool {
	return o.Profile != nil
}

// Symbol returns the canonical symbol the outcome was produced for.
func (o Outcome) Symbol() string {
	if o.Profile != nil {
		return o.Profile.Symbol
	}
	if o.Failure != nil {
		return o.Failure.Symbol
	}
	return ""
}
