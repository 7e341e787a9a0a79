package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoVerifiedChain is reported for tokens with no verified contract address.
// Such a result is a skip, not an upstream failure.
var ErrNoVerifiedChain = errors.New("no verified chain metadata")

// ErrNoChainReader is reported when none of a token's verified chains has a
// configured reader. Like ErrNoVerifiedChain it is a skip.
var ErrNoChainReader = errors.New("no reader for verified chains")

// ChainReader reads holder and supply figures for a token contract on one chain.
type ChainReader interface {
	Chain() string
	TokenStats(ctx context.Context, address string, decimals int) (domain.OnChainMetrics, error)
}

// OnChainProvider queries the verified chains of a token in alphabetical
// order and returns the first one that answers.
type OnChainProvider struct {
	readers map[string]ChainReader
	tracer  trace.Tracer
}

func NewOnChainProvider(tracer trace.Tracer, readers ...ChainReader) *OnChainProvider {
	m := make(map[string]ChainReader, len(readers))
	for _, r := range readers {
		if r != nil {
			m[r.Chain()] = r
		}
	}
	return &OnChainProvider{readers: m, tracer: tracer}
}

func (p *OnChainProvider) Name() string { return "onchain" }

// Skipped reports whether a result came from a token without chain metadata
// or without a reader for any of its chains.
func Skipped(res domain.ProviderResult) bool {
	return !res.Success && (res.Error == ErrNoVerifiedChain.Error() || res.Error == ErrNoChainReader.Error())
}

func (p *OnChainProvider) Fetch(ctx context.Context, token domain.TokenAlias) domain.ProviderResult {
	ctx, span := p.tracer.Start(ctx, "onchain.fetch-token")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", token.Symbol))

	start := time.Now()
	chains := token.VerifiedChains()
	if len(chains) == 0 {
		return domain.ProviderResult{Source: p.Name(), Error: ErrNoVerifiedChain.Error(), Latency: time.Since(start)}
	}

	var lastErr error
	for _, chain := range chains {
		reader, ok := p.readers[chain]
		if !ok {
			continue
		}
		address := token.Chains[chain].Address
		stats, err := reader.TokenStats(ctx, address, token.Decimals)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", chain, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		stats.Chain = chain
		stats.Address = address
		return newResult(p.Name(), start, &domain.PartialTokenData{OnChain: &stats}, nil)
	}

	if lastErr == nil {
		span.SetAttributes(attribute.StringSlice("unread_chains", chains))
		return domain.ProviderResult{Source: p.Name(), Error: ErrNoChainReader.Error(), Latency: time.Since(start)}
	}
	span.RecordError(lastErr)
	return newResult(p.Name(), start, nil, lastErr)
}
