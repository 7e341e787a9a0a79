package job

import (
	"context"
	"errors"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const minStep = time.Second

// ProfileAggregator is the part of the aggregator the refresher drives.
type ProfileAggregator interface {
	Aggregate(ctx context.Context, input string) (domain.Outcome, error)
}

// ProfileRefresher keeps caches and the store warm for a watchlist. Symbols
// are refreshed one per step, so a full pass spreads across the interval
// instead of bursting every provider at once.
type ProfileRefresher struct {
	tracer     trace.Tracer
	logger     *zap.Logger
	aggregator ProfileAggregator
	watchlist  []string
	interval   time.Duration
}

func NewProfileRefresher(tracer trace.Tracer, logger *zap.Logger, aggregator ProfileAggregator, watchlist []string, intervalSecs int) *ProfileRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if intervalSecs <= 0 {
		intervalSecs = 300
	}
	return &ProfileRefresher{
		tracer:     tracer,
		logger:     logger,
		aggregator: aggregator,
		watchlist:  append([]string(nil), watchlist...),
		interval:   time.Duration(intervalSecs) * time.Second,
	}
}

// step is the pause between two symbols.
func (p *ProfileRefresher) step() time.Duration {
	if len(p.watchlist) == 0 {
		return p.interval
	}
	s := p.interval / time.Duration(len(p.watchlist))
	if s < minStep {
		s = minStep
	}
	return s
}

// Start refreshes the watchlist until ctx is cancelled. An empty watchlist
// returns immediately.
func (p *ProfileRefresher) Start(ctx context.Context) {
	if len(p.watchlist) == 0 {
		p.logger.Info("profile refresher disabled, empty watchlist")
		return
	}
	p.logger.Info("profile refresher starting",
		zap.Strings("watchlist", p.watchlist),
		zap.Duration("interval", p.interval),
	)

	idx := 0
	// Run immediately on start
	p.refreshNext(ctx, &idx)

	ticker := time.NewTicker(p.step())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("profile refresher stopped")
			return
		case <-ticker.C:
			p.refreshNext(ctx, &idx)
		}
	}
}

func (p *ProfileRefresher) refreshNext(ctx context.Context, idx *int) {
	symbol := p.watchlist[*idx%len(p.watchlist)]
	*idx++
	if err := p.Refresh(ctx, symbol); err != nil && ctx.Err() == nil {
		p.logger.Warn("profile refresh failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// Refresh aggregates one symbol. A "no reliable data" outcome is logged, not
// returned.
func (p *ProfileRefresher) Refresh(ctx context.Context, symbol string) error {
	ctx, span := p.tracer.Start(ctx, "job.refresh-profile")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	out, err := p.aggregator.Aggregate(ctx, symbol)
	if err != nil {
		var unresolved *domain.UnresolvedSymbolError
		if errors.As(err, &unresolved) {
			p.logger.Warn("watchlist symbol does not resolve", zap.String("symbol", symbol))
			return nil
		}
		span.RecordError(err)
		return err
	}
	if !out.OK() {
		p.logger.Info("no reliable data for watchlist symbol", zap.String("symbol", symbol))
	}
	return nil
}
