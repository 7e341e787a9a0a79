package provider

import (
	"context"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSocialSampleSize = 50
	engagementScale         = 50.0
	positiveThreshold       = 0.6
	negativeThreshold       = 0.2
)

// Post is one public post returned by a PostSearcher.
type Post struct {
	ID         string
	Text       string
	Author     string
	URL        string
	CreatedAt  time.Time
	Engagement float64
}

// PostSearcher finds recent public posts for a query.
type PostSearcher interface {
	Source() string
	SearchPosts(ctx context.Context, query string, limit int) ([]Post, error)
}

// SocialSentimentProvider counts recent $SYMBOL posts and derives an
// engagement-based sentiment score.
type SocialSentimentProvider struct {
	searcher PostSearcher
	limit    int
	tracer   trace.Tracer
}

func NewSocialSentimentProvider(tracer trace.Tracer, searcher PostSearcher) *SocialSentimentProvider {
	return &SocialSentimentProvider{
		searcher: searcher,
		limit:    defaultSocialSampleSize,
		tracer:   tracer,
	}
}

func (p *SocialSentimentProvider) Name() string {
	if p.searcher == nil {
		return "social"
	}
	return p.searcher.Source()
}

func (p *SocialSentimentProvider) Fetch(ctx context.Context, token domain.TokenAlias) domain.ProviderResult {
	ctx, span := p.tracer.Start(ctx, "social.fetch-sentiment")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", token.Symbol), attribute.String("source", p.Name()))

	start := time.Now()
	if p.searcher == nil {
		return newResult(p.Name(), start, nil, &domain.ConfigurationError{Provider: "social", Setting: "SOCIAL_SOURCE"})
	}

	posts, err := p.searcher.SearchPosts(ctx, "$"+token.Symbol, p.limit)
	if err != nil {
		span.RecordError(err)
		return newResult(p.Name(), start, nil, err)
	}
	if len(posts) == 0 {
		return newResult(p.Name(), start, nil, &domain.ProviderError{Provider: p.Name(), Reason: "no recent posts", Err: errEmptyResult})
	}

	score := SentimentScore(posts)
	return newResult(p.Name(), start, &domain.PartialTokenData{Social: &domain.SocialMetrics{
		Source:         p.searcher.Source(),
		Mentions:       len(posts),
		SentimentScore: score,
		Sentiment:      SentimentLabel(score),
	}}, nil)
}

// SentimentScore maps average engagement per post onto [0,1].
func SentimentScore(posts []Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	total := 0.0
	for _, p := range posts {
		total += p.Engagement
	}
	return clamp(total/float64(len(posts))/engagementScale, 0, 1)
}

func SentimentLabel(score float64) string {
	switch {
	case score >= positiveThreshold:
		return "positive"
	case score < negativeThreshold:
		return "negative"
	default:
		return "neutral"
	}
}
