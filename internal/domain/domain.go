package domain

import (
	"sort"
	"time"
)

// ChainData is the on-chain location of a token on one chain.
type ChainData struct {
	Address  string `yaml:"address" json:"address"`
	Verified bool   `yaml:"verified" json:"verified"`
}

// TokenAlias is one static entry of the token table. Loaded once, never mutated.
type TokenAlias struct {
	Symbol        string               `yaml:"symbol" json:"symbol"`
	Name          string               `yaml:"name" json:"name"`
	Aliases       []string             `yaml:"aliases" json:"aliases,omitempty"`
	Decimals      int                  `yaml:"decimals" json:"decimals,omitempty"`
	CoinGeckoID   string               `yaml:"coingecko_id" json:"coingecko_id,omitempty"`
	DefiLlamaSlug string               `yaml:"defillama_slug" json:"defillama_slug,omitempty"`
	Chains        map[string]ChainData `yaml:"chains" json:"chains,omitempty"`
	Featured      bool                 `yaml:"featured" json:"featured,omitempty"`
	Analytics     *FeaturedAnalytics   `yaml:"analytics" json:"analytics,omitempty"`
}

// VerifiedChains returns the chains with verified contract metadata, sorted by name.
func (t TokenAlias) VerifiedChains() []string {
	chains := make([]string, 0, len(t.Chains))
	for chain, data := range t.Chains {
		if data.Verified && data.Address != "" {
			chains = append(chains, chain)
		}
	}
	sort.Strings(chains)
	return chains
}

// FuzzyFamily maps colloquial spellings of a token family to one canonical symbol.
type FuzzyFamily struct {
	Symbol   string   `yaml:"symbol"`
	Contains []string `yaml:"contains"`
	Exact    []string `yaml:"exact"`
}

// FeaturedAnalytics is the internally authoritative record for the featured token.
type FeaturedAnalytics struct {
	Description  string   `yaml:"description" json:"description,omitempty"`
	PriceUSD     *float64 `yaml:"price" json:"price,omitempty"`
	MarketCapUSD *float64 `yaml:"market_cap" json:"market_cap,omitempty"`
	Volume24hUSD *float64 `yaml:"volume_24h" json:"volume_24h,omitempty"`
	Change24hPct *float64 `yaml:"change_24h" json:"change_24h,omitempty"`
	TVL          *float64 `yaml:"tvl" json:"tvl,omitempty"`
	TVLChange1D  *float64 `yaml:"change_1d" json:"change_1d,omitempty"`
	Category     string   `yaml:"category" json:"category,omitempty"`
	Chains       []string `yaml:"chains" json:"chains,omitempty"`
	Holders      *int64   `yaml:"holders" json:"holders,omitempty"`
}

// Profile renders the analytics record as an aggregated profile for alias.
func (a FeaturedAnalytics) Profile(alias TokenAlias, at time.Time) *AggregatedTokenProfile {
	p := &AggregatedTokenProfile{
		Symbol:      alias.Symbol,
		Name:        alias.Name,
		Description: a.Description,
		Featured:    true,
		GeneratedAt: at.UTC(),
	}
	if a.PriceUSD != nil || a.MarketCapUSD != nil || a.Volume24hUSD != nil || a.Change24hPct != nil {
		p.Market = &MarketMetrics{
			PriceUSD:     a.PriceUSD,
			MarketCapUSD: a.MarketCapUSD,
			Volume24hUSD: a.Volume24hUSD,
			Change24hPct: a.Change24hPct,
		}
	}
	if a.TVL != nil || a.Category != "" {
		p.Protocol = &ProtocolMetrics{
			TVL:      a.TVL,
			Change1D: a.TVLChange1D,
			Category: a.Category,
			Chains:   append([]string(nil), a.Chains...),
		}
	}
	if a.Holders != nil {
		p.OnChain = &OnChainMetrics{Holders: a.Holders}
	}
	return p
}

// Conversation roles, mirrored by the conversation_messages CHECK constraint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role can be stored in a conversation.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

type ConversationMessage struct {
	Role      string
	Content   string
	CreatedAt time.Time
}
