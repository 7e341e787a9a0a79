package provider

import (
	"context"
	"math"
	"strings"
	"time"

	"defi-scout/internal/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.opentelemetry.io/otel/trace"
)

type solanaRPC interface {
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
}

// SolanaReader reads SPL mint supply over JSON-RPC. Holder counts need an
// indexer, so only supply is reported. RPC calls go through a Fetcher and
// share its rate limit and backoff.
type SolanaReader struct {
	client solanaRPC
	tracer trace.Tracer
}

func NewSolanaReader(tracer trace.Tracer, rpcURL string, cfg FetchConfig) *SolanaReader {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		rpcURL = rpc.MainNetBeta_RPC
	}
	fetcher := NewFetcher("solana", nil, NewRateLimiter(10, time.Second), cfg)
	return &SolanaReader{
		client: rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(rpcURL, &jsonrpc.RPCClientOpts{HTTPClient: fetcher})),
		tracer: tracer,
	}
}

func (r *SolanaReader) Chain() string { return "solana" }

func (r *SolanaReader) TokenStats(ctx context.Context, address string, _ int) (domain.OnChainMetrics, error) {
	ctx, span := r.tracer.Start(ctx, "onchain.solana.token-supply")
	defer span.End()

	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return domain.OnChainMetrics{}, &domain.ProviderError{Provider: "solana", Reason: "invalid mint address", Err: err}
	}
	out, err := r.client.GetTokenSupply(ctx, mint, rpc.CommitmentFinalized)
	if err != nil {
		return domain.OnChainMetrics{}, requestError("solana", err)
	}
	if out == nil || out.Value == nil {
		return domain.OnChainMetrics{}, &domain.ProviderError{Provider: "solana", Reason: "empty supply response", Err: errEmptyResult}
	}

	raw := parseFloatString(out.Value.Amount)
	supply := raw / math.Pow10(int(out.Value.Decimals))
	return domain.OnChainMetrics{TotalSupply: &supply}, nil
}
