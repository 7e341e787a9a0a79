// Package service assembles the token pipeline shared by every binary.
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"defi-scout/internal/advisor"
	"defi-scout/internal/aggregator"
	"defi-scout/internal/cache"
	"defi-scout/internal/config"
	"defi-scout/internal/observability"
	"defi-scout/internal/provider"
	"defi-scout/internal/repository"
	"defi-scout/internal/resolver"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	newOpenAIClientFunc = advisor.NewOpenAIClient
	defaultResolverFunc = resolver.Default
)

// Deps are the optional back-ends a process managed to connect. Zero values
// disable the matching feature.
type Deps struct {
	Pool    repository.PgxPool
	Redis   cache.RedisClient
	Metrics *observability.Metrics
}

// Stack is everything the front-ends talk to.
type Stack struct {
	Resolver      *resolver.Resolver
	Sources       aggregator.Sources
	Aggregator    *aggregator.Aggregator
	Advisor       *advisor.AdvisorService
	News          *provider.NewsProvider
	Mood          *provider.FearGreedProvider
	Shared        *cache.Shared
	Profiles      *repository.ProfileRepository
	Conversations *repository.ConversationRepository
	Metrics       *observability.Metrics
}

// Build wires providers, caches, persistence and the advisor from cfg.
func Build(cfg *config.Config, tracer trace.Tracer, logger *zap.Logger, deps Deps) (*Stack, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res, err := defaultResolverFunc()
	if err != nil {
		return nil, fmt.Errorf("load token table: %w", err)
	}

	st := &Stack{Resolver: res, Metrics: deps.Metrics}
	if deps.Pool != nil {
		st.Profiles = repository.NewProfileRepository(deps.Pool, tracer)
		st.Conversations = repository.NewConversationRepository(deps.Pool, tracer)
	}
	if deps.Redis != nil {
		st.Shared = cache.NewShared(deps.Redis, "defi-scout")
	}

	fc := fetchConfig(cfg, deps.Metrics)
	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if st.Shared != nil {
		cacheOpts = append(cacheOpts, cache.WithShared(st.Shared))
	}

	st.Sources = aggregator.Sources{
		Market:   provider.NewCoinGeckoProvider(tracer, cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey, fc),
		Protocol: provider.NewDefiLlamaProvider(tracer, cfg.DefiLlamaBaseURL, secs(cfg.ProtocolCacheTTLSecs), fc, cacheOpts...),
		Social:   provider.NewSocialSentimentProvider(tracer, postSearcher(cfg, tracer, fc)),
		OnChain:  provider.NewOnChainProvider(tracer, chainReaders(cfg, tracer, fc)...),
	}

	opts := []aggregator.Option{
		aggregator.WithTTLs(aggregator.TTLs{
			Market:   secsOr(cfg.MarketCacheTTLSecs, aggregator.DefaultTTLs.Market),
			Protocol: secsOr(cfg.ProtocolCacheTTLSecs, aggregator.DefaultTTLs.Protocol),
			Social:   secsOr(cfg.SocialCacheTTLSecs, aggregator.DefaultTTLs.Social),
			OnChain:  secsOr(cfg.OnChainCacheTTLSecs, aggregator.DefaultTTLs.OnChain),
		}),
		aggregator.WithCacheOptions(cacheOpts...),
		aggregator.WithMetrics(deps.Metrics),
		aggregator.WithLogger(logger),
		aggregator.WithTracer(tracer),
		aggregator.WithTimeout(secs(cfg.ProviderTimeoutSecs)),
	}
	if st.Profiles != nil {
		opts = append(opts, aggregator.WithStore(st.Profiles))
	}
	st.Aggregator = aggregator.New(res, st.Sources, opts...)

	st.News = provider.NewNewsProvider(tracer, cfg.NewsFeeds, fc)
	st.Mood = provider.NewFearGreedProvider(tracer, fc)

	var llm advisor.LLMClient
	if cfg.OpenAIAPIKey != "" {
		llm = newOpenAIClientFunc(cfg.OpenAIAPIKey)
	}
	var conv advisor.ConversationStore
	if st.Conversations != nil {
		conv = st.Conversations
	}
	st.Advisor = advisor.NewAdvisorService(tracer, llm, st.Aggregator, res, conv,
		cfg.OpenAIModel, cfg.AdvisorMaxHistory,
		advisor.WithNews(st.News),
		advisor.WithMood(st.Mood),
		advisor.WithLogger(logger),
	)

	logger.Info("token pipeline ready",
		zap.String("social_source", cfg.SocialSource),
		zap.Bool("persistence", st.Profiles != nil),
		zap.Bool("shared_cache", st.Shared != nil),
		zap.Bool("llm", llm != nil),
	)
	return st, nil
}

// StartBackground runs the cache sweepers when configured. It returns
// immediately; everything stops with ctx.
func (s *Stack) StartBackground(ctx context.Context, cfg *config.Config) {
	if cfg.CacheSweepSecs > 0 {
		s.Aggregator.StartSweepers(ctx, secs(cfg.CacheSweepSecs))
	}
}

func fetchConfig(cfg *config.Config, metrics *observability.Metrics) provider.FetchConfig {
	return provider.FetchConfig{
		Timeout:        secs(cfg.ProviderTimeoutSecs),
		MaxRetries:     cfg.FetchMaxRetries,
		InitialBackoff: time.Duration(cfg.FetchInitialBackoffMs) * time.Millisecond,
		OnRetry:        metrics.RecordRetry,
	}
}

func postSearcher(cfg *config.Config, tracer trace.Tracer, fc provider.FetchConfig) provider.PostSearcher {
	if cfg.SocialSource == "twitter" {
		return provider.NewTwitterSearcher(tracer, "", cfg.TwitterBearerToken, fc)
	}
	return provider.NewRedditSearcher(tracer, "", fc)
}

// chainReaders returns one Blockscout reader per configured EVM chain, in
// chain order, followed by Solana.
func chainReaders(cfg *config.Config, tracer trace.Tracer, fc provider.FetchConfig) []provider.ChainReader {
	chains := make([]string, 0, len(cfg.BlockscoutURLs))
	for chain := range cfg.BlockscoutURLs {
		if chain == "solana" {
			continue
		}
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	readers := make([]provider.ChainReader, 0, len(chains)+1)
	for _, chain := range chains {
		readers = append(readers, provider.NewBlockscoutReader(tracer, chain, cfg.BlockscoutURLs[chain], fc))
	}
	if cfg.SolanaRPCURL != "" {
		readers = append(readers, provider.NewSolanaReader(tracer, cfg.SolanaRPCURL, fc))
	}
	return readers
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func secsOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return secs(n)
}
