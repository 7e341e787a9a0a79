package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"defi-scout/internal/cache"
	"defi-scout/internal/domain"
	"defi-scout/internal/observability"
	"defi-scout/internal/provider"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

var errSourceFailed = errors.New("source failed")

// SymbolResolver maps free text to canonical symbols.
type SymbolResolver interface {
	Resolve(input string) (string, bool)
	Lookup(symbol string) (domain.TokenAlias, bool)
	SuggestionMessage(input string) string
}

// ProfileStore persists aggregation results and serves the featured token's
// analytics records.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p *domain.AggregatedTokenProfile) error
	UpsertProtocol(ctx context.Context, symbol string, data *domain.ProtocolData, fetchedAt time.Time) error
	LatestAnalytics(ctx context.Context, symbol string) (*domain.FeaturedAnalytics, time.Time, error)
}

// Sources are the four data sources. Any of them may be nil.
type Sources struct {
	Market   provider.TokenDataSource
	Protocol provider.TokenDataSource
	Social   provider.TokenDataSource
	OnChain  provider.TokenDataSource
}

// TTLs sets the cache lifetime per source kind.
type TTLs struct {
	Market   time.Duration
	Protocol time.Duration
	Social   time.Duration
	OnChain  time.Duration
}

// DefaultTTLs are the per-source freshness windows.
var DefaultTTLs = TTLs{
	Market:   time.Minute,
	Protocol: 5 * time.Minute,
	Social:   3 * time.Minute,
	OnChain:  5 * time.Minute,
}

// outcome is what gets cached per source and symbol. Only successes are
// stored; failures travel through the same type so concurrent waiters see
// the same result.
type outcome struct {
	Source  string                   `json:"source"`
	Error   string                   `json:"error,omitempty"`
	Latency time.Duration            `json:"latency"`
	Data    *domain.PartialTokenData `json:"data,omitempty"`
}

type slot struct {
	kind   string
	source provider.TokenDataSource
	cache  *cache.ResponseCache[outcome]
}

// Aggregator resolves a token and merges what its sources return.
type Aggregator struct {
	resolver SymbolResolver
	slots    []slot
	store    ProfileStore
	metrics  *observability.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	timeout  time.Duration
	now      func() time.Time
}

type options struct {
	ttls      TTLs
	cacheOpts []cache.Option
	store     ProfileStore
	metrics   *observability.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*options)

func WithTTLs(t TTLs) Option {
	return func(o *options) { o.ttls = t }
}

// WithCacheOptions passes options to every per-source cache, for example a
// shared Redis tier.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(o *options) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

func WithStore(s ProfileStore) Option {
	return func(o *options) { o.store = s }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithTimeout bounds every single source call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(resolver SymbolResolver, sources Sources, opts ...Option) *Aggregator {
	o := options{ttls: DefaultTTLs, timeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.tracer == nil {
		o.tracer = trace.NewNoopTracerProvider().Tracer("aggregator")
	}
	if o.timeout <= 0 {
		o.timeout = defaultTimeout
	}

	cacheOpts := append([]cache.Option{
		cache.WithClock(o.now),
		cache.WithLogger(o.logger),
	}, o.cacheOpts...)
	if o.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(o.metrics.RecordCache))
	}

	a := &Aggregator{
		resolver: resolver,
		store:    o.store,
		metrics:  o.metrics,
		logger:   o.logger,
		tracer:   o.tracer,
		timeout:  o.timeout,
		now:      o.now,
	}
	for _, s := range []struct {
		kind   string
		source provider.TokenDataSource
		ttl    time.Duration
	}{
		{domain.SourceMarket, sources.Market, o.ttls.Market},
		{domain.SourceProtocol, sources.Protocol, o.ttls.Protocol},
		{domain.SourceSocial, sources.Social, o.ttls.Social},
		{domain.SourceOnChain, sources.OnChain, o.ttls.OnChain},
	} {
		if s.source == nil {
			continue
		}
		a.slots = append(a.slots, slot{
			kind:   s.kind,
			source: s.source,
			cache:  cache.NewResponseCache[outcome](s.kind, s.ttl, cacheOpts...),
		})
	}
	return a
}

// StartSweepers periodically drops stale entries from every source cache.
func (a *Aggregator) StartSweepers(ctx context.Context, interval time.Duration) {
	for _, s := range a.slots {
		s.cache.StartSweeper(ctx, interval)
	}
}

// Aggregate resolves input and builds the token's profile. The returned error
// is either *domain.UnresolvedSymbolError or the caller's context error;
// "no data" is reported through Outcome.Failure.
func (a *Aggregator) Aggregate(ctx context.Context, input string) (domain.Outcome, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.aggregate")
	defer span.End()

	symbol, ok := a.resolver.Resolve(input)
	if !ok {
		a.metrics.RecordAggregation("unresolved")
		return domain.Outcome{}, &domain.UnresolvedSymbolError{
			Input:      strings.TrimSpace(input),
			Suggestion: a.resolver.SuggestionMessage(input),
		}
	}
	span.SetAttributes(attribute.String("symbol", symbol))

	token, ok := a.resolver.Lookup(symbol)
	if !ok {
		token = domain.TokenAlias{Symbol: symbol}
	}
	if token.Featured {
		return a.featured(ctx, token)
	}

	results := a.fanOut(ctx, token)
	if err := ctx.Err(); err != nil {
		return domain.Outcome{}, err
	}

	out := merge(token, results, a.now())
	if out.Failure != nil {
		a.metrics.RecordAggregation("failure")
		a.logger.Info("no reliable data", zap.String("symbol", symbol))
		return out, nil
	}

	a.metrics.RecordAggregation("profile")
	a.persist(ctx, out.Profile, results)
	return out, nil
}

// fanOut calls every source concurrently and waits for all of them. Results
// keep the slot order regardless of completion order.
func (a *Aggregator) fanOut(ctx context.Context, token domain.TokenAlias) []domain.ProviderResult {
	results := make([]domain.ProviderResult, len(a.slots))
	var wg sync.WaitGroup
	for i, s := range a.slots {
		wg.Add(1)
		go func(i int, s slot) {
			defer wg.Done()
			results[i] = a.call(ctx, s, token)
		}(i, s)
	}
	wg.Wait()
	return results
}

func (a *Aggregator) call(ctx context.Context, s slot, token domain.TokenAlias) domain.ProviderResult {
	name := s.source.Name()
	key := name + ":" + token.Symbol

	out, cached, err := s.cache.Do(ctx, key, func(ctx context.Context) (outcome, error) {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		res := fetchSafely(ctx, s.source, token)
		o := outcome{Source: res.Source, Error: res.Error, Latency: res.Latency, Data: res.Payload}
		if !res.Success || res.Payload == nil {
			if o.Error == "" {
				o.Error = "empty result"
			}
			return o, errSourceFailed
		}
		return o, nil
	})

	res := domain.ProviderResult{
		Source:  out.Source,
		Success: err == nil && out.Data != nil,
		Payload: out.Data,
		Error:   out.Error,
		Latency: out.Latency,
		Cached:  cached,
	}
	if res.Source == "" {
		res.Source = name
	}
	if cached {
		res.Latency = 0
	}
	if !res.Success {
		res.Payload = nil
		if res.Error == "" && err != nil {
			res.Error = err.Error()
		}
	}
	a.observe(s.kind, token.Symbol, res)
	return res
}

// fetchSafely turns a panicking source into a failed result.
func fetchSafely(ctx context.Context, src provider.TokenDataSource, token domain.TokenAlias) (res domain.ProviderResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = domain.ProviderResult{
				Source:  src.Name(),
				Error:   fmt.Sprintf("panic: %v", r),
				Latency: time.Since(start),
			}
		}
	}()
	return src.Fetch(ctx, token)
}

func (a *Aggregator) observe(kind, symbol string, res domain.ProviderResult) {
	switch {
	case res.Cached:
		a.metrics.RecordProvider(res.Source, observability.OutcomeCached, 0)
	case res.Success:
		a.metrics.RecordProvider(res.Source, observability.OutcomeSuccess, res.Latency)
	case kind == domain.SourceOnChain && provider.Skipped(res):
		a.metrics.RecordProvider(res.Source, observability.OutcomeSkipped, 0)
		a.logger.Debug("on-chain lookup skipped", zap.String("symbol", symbol))
	default:
		a.metrics.RecordProvider(res.Source, observability.OutcomeFailure, res.Latency)
		a.logger.Warn("provider failed",
			zap.String("provider", res.Source),
			zap.String("symbol", symbol),
			zap.String("error", res.Error),
			zap.Duration("latency", res.Latency),
		)
	}
}

func (a *Aggregator) featured(ctx context.Context, token domain.TokenAlias) (domain.Outcome, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.featured")
	defer span.End()

	analytics, at := token.Analytics, a.now()
	if a.store != nil {
		stored, recordedAt, err := a.store.LatestAnalytics(ctx, token.Symbol)
		if err != nil {
			a.logger.Warn("featured analytics lookup failed", zap.String("symbol", token.Symbol), zap.Error(err))
		} else if stored != nil {
			analytics, at = stored, recordedAt
		}
	}
	if analytics == nil {
		a.metrics.RecordAggregation("failure")
		return domain.Outcome{Failure: &domain.AggregationFailure{
			Symbol:  token.Symbol,
			Message: noDataMessage(token.Symbol),
		}}, nil
	}

	a.metrics.RecordAggregation("featured")
	return domain.Outcome{Profile: analytics.Profile(token, at)}, nil
}

func (a *Aggregator) persist(ctx context.Context, p *domain.AggregatedTokenProfile, results []domain.ProviderResult) {
	if a.store == nil {
		return
	}
	if err := a.store.UpsertProfile(ctx, p); err != nil {
		a.logger.Warn("persist profile failed", zap.String("symbol", p.Symbol), zap.Error(err))
	}
	for _, r := range results {
		if !r.Success || r.Cached || r.Payload == nil || r.Payload.Protocol == nil {
			continue
		}
		if err := a.store.UpsertProtocol(ctx, p.Symbol, r.Payload.Protocol, p.GeneratedAt); err != nil {
			a.logger.Warn("persist protocol snapshot failed", zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}
}
