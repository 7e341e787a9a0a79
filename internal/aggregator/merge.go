package aggregator

import (
	"fmt"
	"strings"
	"time"

	"defi-scout/internal/domain"
)

func noDataMessage(symbol string) string {
	return fmt.Sprintf(
		"I couldn't find reliable market or protocol data for %s right now. Please verify the symbol and try again.\n\n%s",
		symbol, domain.Disclaimer,
	)
}

// merge folds provider results into a profile. Market or protocol data must
// be present; social and on-chain data are optional extras. The name comes
// from the market source, then the protocol source, then the symbol, no
// matter which source finished first.
func merge(token domain.TokenAlias, results []domain.ProviderResult, now time.Time) domain.Outcome {
	var (
		market   *domain.MarketData
		protocol *domain.ProtocolData
		social   *domain.SocialMetrics
		onchain  *domain.OnChainMetrics
	)
	for _, r := range results {
		if !r.Success || r.Payload == nil {
			continue
		}
		if r.Payload.Market != nil && market == nil {
			market = r.Payload.Market
		}
		if r.Payload.Protocol != nil && protocol == nil {
			protocol = r.Payload.Protocol
		}
		if r.Payload.Social != nil && social == nil {
			social = r.Payload.Social
		}
		if r.Payload.OnChain != nil && onchain == nil {
			onchain = r.Payload.OnChain
		}
	}

	if market == nil && protocol == nil {
		return domain.Outcome{Failure: &domain.AggregationFailure{
			Symbol:  token.Symbol,
			Message: noDataMessage(token.Symbol),
			Results: results,
		}}
	}

	p := &domain.AggregatedTokenProfile{
		Symbol:      token.Symbol,
		Sources:     results,
		GeneratedAt: now.UTC(),
	}
	var marketName, protocolName string
	if market != nil {
		marketName = market.Name
		p.Description = market.Description
		m := market.Metrics
		p.Market = &m
	}
	if protocol != nil {
		protocolName = protocol.Name
		m := protocol.Metrics
		m.Chains = append([]string(nil), protocol.Metrics.Chains...)
		p.Protocol = &m
	}
	if social != nil {
		s := *social
		p.Social = &s
	}
	if onchain != nil {
		o := *onchain
		p.OnChain = &o
	}
	p.Name = firstNonEmpty(marketName, protocolName, token.Symbol)
	return domain.Outcome{Profile: p}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
