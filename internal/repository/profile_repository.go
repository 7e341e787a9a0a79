package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"defi-scout/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ProfileRepository persists aggregated profiles, protocol snapshots and the
// analytics records of the featured token.
type ProfileRepository struct {
	pool   PgxPool
	tracer trace.Tracer
	now    func() time.Time
}

func NewProfileRepository(pool PgxPool, tracer trace.Tracer) *ProfileRepository {
	return &ProfileRepository{pool: pool, tracer: tracer, now: time.Now}
}

// UpsertProfile stores p keyed by symbol, replacing the previous row.
func (r *ProfileRepository) UpsertProfile(ctx context.Context, p *domain.AggregatedTokenProfile) error {
	if p == nil {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "profile-repo.upsert-profile")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", p.Symbol))

	market, err := jsonArg(p.Market)
	if err != nil {
		return fmt.Errorf("encode market data: %w", err)
	}
	social, err := jsonArg(p.Social)
	if err != nil {
		return fmt.Errorf("encode social data: %w", err)
	}
	onchain, err := jsonArg(p.OnChain)
	if err != nil {
		return fmt.Errorf("encode onchain data: %w", err)
	}

	var tvl, change1D *float64
	var category string
	chains := []string{}
	if p.Protocol != nil {
		tvl = p.Protocol.TVL
		change1D = p.Protocol.Change1D
		category = p.Protocol.Category
		if len(p.Protocol.Chains) > 0 {
			chains = p.Protocol.Chains
		}
	}
	chainsJSON, err := jsonArg(chains)
	if err != nil {
		return fmt.Errorf("encode chains: %w", err)
	}

	updatedAt := p.GeneratedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO token_profiles (symbol, name, description, market_data, tvl, change_1d, category, chains, social, onchain, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (symbol) DO UPDATE SET
		     name = EXCLUDED.name,
		     description = EXCLUDED.description,
		     market_data = EXCLUDED.market_data,
		     tvl = EXCLUDED.tvl,
		     change_1d = EXCLUDED.change_1d,
		     category = EXCLUDED.category,
		     chains = EXCLUDED.chains,
		     social = EXCLUDED.social,
		     onchain = EXCLUDED.onchain,
		     updated_at = EXCLUDED.updated_at`,
		strings.ToUpper(p.Symbol), p.Name, p.Description, market, tvl, change1D, category, chainsJSON, social, onchain, updatedAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert profile %s: %w", p.Symbol, err)
	}
	return nil
}

// UpsertProtocol records one protocol snapshot per symbol and fetch time.
func (r *ProfileRepository) UpsertProtocol(ctx context.Context, symbol string, data *domain.ProtocolData, fetchedAt time.Time) error {
	if data == nil {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "profile-repo.upsert-protocol")
	defer span.End()

	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO protocol_snapshots (symbol, name, slug, tvl, change_1d, category, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (symbol, fetched_at) DO UPDATE SET
		     name = EXCLUDED.name,
		     slug = EXCLUDED.slug,
		     tvl = EXCLUDED.tvl,
		     change_1d = EXCLUDED.change_1d,
		     category = EXCLUDED.category`,
		strings.ToUpper(symbol), data.Name, data.Slug, data.Metrics.TVL, data.Metrics.Change1D, data.Metrics.Category, fetchedAt.UTC(),
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert protocol snapshot %s: %w", symbol, err)
	}
	return nil
}

// LatestAnalytics returns the newest analytics record for symbol, or nil
// when none has been recorded.
func (r *ProfileRepository) LatestAnalytics(ctx context.Context, symbol string) (*domain.FeaturedAnalytics, time.Time, error) {
	ctx, span := r.tracer.Start(ctx, "profile-repo.latest-analytics")
	defer span.End()

	var payload []byte
	var recordedAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT payload, recorded_at
		 FROM token_analytics
		 WHERE symbol = $1
		 ORDER BY recorded_at DESC
		 LIMIT 1`,
		strings.ToUpper(symbol),
	).Scan(&payload, &recordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query analytics %s: %w", symbol, err)
	}

	var a domain.FeaturedAnalytics
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode analytics %s: %w", symbol, err)
	}
	return &a, recordedAt.UTC(), nil
}

// RecordAnalytics appends an analytics record for symbol.
func (r *ProfileRepository) RecordAnalytics(ctx context.Context, symbol string, a domain.FeaturedAnalytics) error {
	ctx, span := r.tracer.Start(ctx, "profile-repo.record-analytics")
	defer span.End()

	payload, err := jsonArg(a)
	if err != nil {
		return fmt.Errorf("encode analytics: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO token_analytics (symbol, payload, recorded_at) VALUES ($1, $2, $3)`,
		strings.ToUpper(symbol), payload, r.now().UTC(),
	)
	return err
}

const profileColumns = `symbol, name, description, market_data, tvl, change_1d, category, chains, social, onchain, updated_at`

// GetProfile returns the stored profile for symbol, or nil if there is none.
func (r *ProfileRepository) GetProfile(ctx context.Context, symbol string) (*domain.AggregatedTokenProfile, error) {
	ctx, span := r.tracer.Start(ctx, "profile-repo.get-profile")
	defer span.End()

	p, err := scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM token_profiles WHERE symbol = $1`,
		strings.ToUpper(symbol),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", symbol, err)
	}
	return p, nil
}

// ListProfiles returns the most recently updated profiles first.
func (r *ProfileRepository) ListProfiles(ctx context.Context, limit int) ([]*domain.AggregatedTokenProfile, error) {
	ctx, span := r.tracer.Start(ctx, "profile-repo.list-profiles")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM token_profiles ORDER BY updated_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AggregatedTokenProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (*domain.AggregatedTokenProfile, error) {
	var (
		p                             domain.AggregatedTokenProfile
		market, chains, social, chain []byte
		tvl, change1D                 *float64
		category                      string
		updatedAt                     time.Time
	)
	if err := row.Scan(&p.Symbol, &p.Name, &p.Description, &market, &tvl, &change1D, &category, &chains, &social, &chain, &updatedAt); err != nil {
		return nil, err
	}
	p.GeneratedAt = updatedAt.UTC()

	if len(market) > 0 {
		p.Market = &domain.MarketMetrics{}
		if err := json.Unmarshal(market, p.Market); err != nil {
			return nil, fmt.Errorf("decode market_data: %w", err)
		}
	}
	var chainList []string
	if len(chains) > 0 {
		if err := json.Unmarshal(chains, &chainList); err != nil {
			return nil, fmt.Errorf("decode chains: %w", err)
		}
	}
	if tvl != nil || change1D != nil || category != "" || len(chainList) > 0 {
		p.Protocol = &domain.ProtocolMetrics{TVL: tvl, Change1D: change1D, Category: category, Chains: chainList}
	}
	if len(social) > 0 {
		p.Social = &domain.SocialMetrics{}
		if err := json.Unmarshal(social, p.Social); err != nil {
			return nil, fmt.Errorf("decode social: %w", err)
		}
	}
	if len(chain) > 0 {
		p.OnChain = &domain.OnChainMetrics{}
		if err := json.Unmarshal(chain, p.OnChain); err != nil {
			return nil, fmt.Errorf("decode onchain: %w", err)
		}
	}
	return &p, nil
}
