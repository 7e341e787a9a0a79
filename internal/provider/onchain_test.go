package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"defi-scout/internal/domain"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	chain string
	stats domain.OnChainMetrics
	err   error
	calls int
}

func (r *stubReader) Chain() string { return r.chain }

func (r *stubReader) TokenStats(ctx context.Context, address string, decimals int) (domain.OnChainMetrics, error) {
	r.calls++
	return r.stats, r.err
}

func TestOnChainSkipsTokensWithoutVerifiedChains(t *testing.T) {
	p := NewOnChainProvider(testTracer(), &stubReader{chain: "ethereum"})
	res := p.Fetch(context.Background(), domain.TokenAlias{
		Symbol: "BTC",
		Chains: map[string]domain.ChainData{"ethereum": {Address: "0xabc", Verified: false}},
	})
	assert.False(t, res.Success)
	assert.True(t, Skipped(res))
}

func TestOnChainSkipsChainsWithoutReader(t *testing.T) {
	ethereum := &stubReader{chain: "ethereum"}
	p := NewOnChainProvider(testTracer(), ethereum)
	res := p.Fetch(context.Background(), domain.TokenAlias{
		Symbol: "OP",
		Chains: map[string]domain.ChainData{"optimism": {Address: "0x4200", Verified: true}},
	})
	assert.False(t, res.Success)
	assert.True(t, Skipped(res))
	assert.Equal(t, 0, ethereum.calls)
}

func TestOnChainFirstSuccessfulChainWins(t *testing.T) {
	arbitrum := &stubReader{chain: "arbitrum", err: errors.New("explorer down")}
	ethereum := &stubReader{chain: "ethereum", stats: domain.OnChainMetrics{Holders: ptr(int64(420000))}}
	solanaReader := &stubReader{chain: "solana", stats: domain.OnChainMetrics{TotalSupply: ptr(1e9)}}
	p := NewOnChainProvider(testTracer(), solanaReader, ethereum, arbitrum)

	res := p.Fetch(context.Background(), domain.TokenAlias{
		Symbol: "USDC",
		Chains: map[string]domain.ChainData{
			"solana":   {Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Verified: true},
			"ethereum": {Address: "0xa0b8", Verified: true},
			"arbitrum": {Address: "0xaf88", Verified: true},
		},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ethereum", res.Payload.OnChain.Chain)
	assert.Equal(t, "0xa0b8", res.Payload.OnChain.Address)
	assert.Equal(t, int64(420000), *res.Payload.OnChain.Holders)
	assert.Equal(t, 1, arbitrum.calls)
	assert.Equal(t, 0, solanaReader.calls)
}

func TestOnChainAllChainsFail(t *testing.T) {
	p := NewOnChainProvider(testTracer(), &stubReader{chain: "ethereum", err: errors.New("boom")})
	res := p.Fetch(context.Background(), domain.TokenAlias{
		Symbol: "DAI",
		Chains: map[string]domain.ChainData{"ethereum": {Address: "0x6b17", Verified: true}},
	})
	assert.False(t, res.Success)
	assert.False(t, Skipped(res))
	assert.Contains(t, res.Error, "ethereum: boom")
}

func TestBlockscoutTokenStats(t *testing.T) {
	r := NewBlockscoutReader(testTracer(), "ethereum", "https://eth.example", FetchConfig{})
	r.fetcher = testFetcher(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "/api/v2/tokens/0x1f9840a85d5af5bf1d1762f925bdaddc4201f984", req.URL.Path)
		return jsonResponse(http.StatusOK, `{"holders_count":"385123","total_supply":"1000000000000000000000000000","decimals":"18"}`), nil
	}, nil)

	stats, err := r.TokenStats(context.Background(), "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(385123), *stats.Holders)
	assert.InDelta(t, 1e9, *stats.TotalSupply, 1)
}

func TestBlockscoutMissingInstance(t *testing.T) {
	r := NewBlockscoutReader(testTracer(), "unknownchain", "", FetchConfig{})
	_, err := r.TokenStats(context.Background(), "0xabc", 18)
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

type stubSolanaRPC struct {
	out *rpc.GetTokenSupplyResult
	err error
}

func (s stubSolanaRPC) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	return s.out, s.err
}

func TestSolanaTokenStats(t *testing.T) {
	r := NewSolanaReader(testTracer(), "", FetchConfig{})
	r.client = stubSolanaRPC{out: &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{Amount: "8999999000000000", Decimals: 6}}}

	stats, err := r.TokenStats(context.Background(), "2zMMhcVQEXDtdE6vsFS7S7D5oUodfJHE8vd1gnBouauv", 6)
	require.NoError(t, err)
	assert.InDelta(t, 8999999000.0, *stats.TotalSupply, 0.001)
	assert.Nil(t, stats.Holders)

	_, err = r.TokenStats(context.Background(), "not-base58!", 6)
	assert.Error(t, err)
}

func TestSolanaTokenStatsRetriesRateLimitedRPC(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getTokenSupply", req.Method)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":429,"message":"Too many requests"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"context":{"slot":1},"value":{"amount":"5000000","decimals":6,"uiAmountString":"5"}}}`))
	}))
	defer srv.Close()

	var retries []string
	r := NewSolanaReader(testTracer(), srv.URL, FetchConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(provider, reason string) { retries = append(retries, provider+":"+reason) },
	})

	stats, err := r.TokenStats(context.Background(), "2zMMhcVQEXDtdE6vsFS7S7D5oUodfJHE8vd1gnBouauv", 6)
	require.NoError(t, err)
	require.NotNil(t, stats.TotalSupply)
	assert.InDelta(t, 5.0, *stats.TotalSupply, 1e-9)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"solana:status_429"}, retries)
}
