package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const twitterBaseURL = "https://api.twitter.com"

// TwitterSearcher uses the v2 recent search endpoint.
type TwitterSearcher struct {
	fetcher     *Fetcher
	baseURL     string
	bearerToken string
	tracer      trace.Tracer
}

func NewTwitterSearcher(tracer trace.Tracer, baseURL, bearerToken string, cfg FetchConfig) *TwitterSearcher {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = twitterBaseURL
	}
	cfg = cfg.withDefaults()
	return &TwitterSearcher{
		fetcher:     NewFetcher("twitter", nil, NewRateLimiter(1, 5*time.Second), cfg),
		baseURL:     baseURL,
		bearerToken: strings.TrimSpace(bearerToken),
		tracer:      tracer,
	}
}

func (s *TwitterSearcher) Source() string { return "twitter" }

func (s *TwitterSearcher) SearchPosts(ctx context.Context, query string, limit int) ([]Post, error) {
	ctx, span := s.tracer.Start(ctx, "twitter.search-recent")
	defer span.End()

	if s.bearerToken == "" {
		return nil, &domain.ConfigurationError{Provider: s.Source(), Setting: "TWITTER_BEARER_TOKEN"}
	}
	// The endpoint accepts 10..100.
	limit = max(10, min(limit, 100))

	q := url.Values{}
	q.Set("query", query+" -is:retweet")
	q.Set("max_results", fmt.Sprintf("%d", limit))
	q.Set("tweet.fields", "public_metrics,created_at,author_id")
	u := s.baseURL + "/2/tweets/search/recent?" + q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.bearerToken)
	resp, err := s.fetcher.Get(ctx, u, header)
	if err != nil {
		return nil, requestError(s.Source(), err)
	}

	var payload struct {
		Data []struct {
			ID            string `json:"id"`
			Text          string `json:"text"`
			AuthorID      string `json:"author_id"`
			CreatedAt     string `json:"created_at"`
			PublicMetrics struct {
				Retweets int `json:"retweet_count"`
				Replies  int `json:"reply_count"`
				Likes    int `json:"like_count"`
				Quotes   int `json:"quote_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := decodeJSON(s.Source(), resp, &payload); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(payload.Data))
	for _, t := range payload.Data {
		created, _ := time.Parse(time.RFC3339, t.CreatedAt)
		m := t.PublicMetrics
		posts = append(posts, Post{
			ID:         t.ID,
			Text:       sanitizeText(t.Text, 280),
			Author:     t.AuthorID,
			URL:        "https://x.com/i/web/status/" + t.ID,
			CreatedAt:  created.UTC(),
			Engagement: float64(m.Likes + m.Retweets + m.Replies + m.Quotes),
		})
	}
	return posts, nil
}
