package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	redditBaseURL     = "https://www.reddit.com"
	defaultRedditUA   = "defi-scout/1.0"
	defaultRedditSize = 40
)

// RedditSearcher searches recent submissions site-wide. It needs no
// credentials, only a descriptive User-Agent.
type RedditSearcher struct {
	fetcher   *Fetcher
	baseURL   string
	userAgent string
	tracer    trace.Tracer
}

func NewRedditSearcher(tracer trace.Tracer, baseURL string, cfg FetchConfig) *RedditSearcher {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = redditBaseURL
	}
	cfg = cfg.withDefaults()
	return &RedditSearcher{
		fetcher:   NewFetcher("reddit", nil, NewRateLimiter(10, 6*time.Second), cfg),
		baseURL:   baseURL,
		userAgent: defaultRedditUA,
		tracer:    tracer,
	}
}

func (s *RedditSearcher) Source() string { return "reddit" }

func (s *RedditSearcher) SearchPosts(ctx context.Context, query string, limit int) ([]Post, error) {
	ctx, span := s.tracer.Start(ctx, "reddit.search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = defaultRedditSize
	}
	if limit > 100 {
		limit = 100
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "new")
	q.Set("t", "week")
	q.Set("limit", fmt.Sprintf("%d", limit))
	u := s.baseURL + "/search.json?" + q.Encode()

	header := http.Header{}
	if s.userAgent != "" {
		header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.fetcher.Get(ctx, u, header)
	if err != nil {
		return nil, requestError(s.Source(), err)
	}

	var payload struct {
		Data struct {
			Children []struct {
				Data struct {
					ID          string  `json:"id"`
					Title       string  `json:"title"`
					SelfText    string  `json:"selftext"`
					Author      string  `json:"author"`
					CreatedUTC  float64 `json:"created_utc"`
					Permalink   string  `json:"permalink"`
					URL         string  `json:"url"`
					Score       float64 `json:"score"`
					NumComments float64 `json:"num_comments"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := decodeJSON(s.Source(), resp, &payload); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(payload.Data.Children))
	for _, row := range payload.Data.Children {
		data := row.Data
		if strings.TrimSpace(data.ID) == "" || strings.TrimSpace(data.Title) == "" {
			continue
		}
		postURL := strings.TrimSpace(data.URL)
		if permalink := strings.TrimSpace(data.Permalink); permalink != "" {
			postURL = s.baseURL + permalink
		}
		text := sanitizeText(data.Title, 300)
		if body := sanitizeText(data.SelfText, 420); body != "" {
			text += " " + body
		}
		posts = append(posts, Post{
			ID:         data.ID,
			Text:       text,
			Author:     sanitizeText(data.Author, 120),
			URL:        postURL,
			CreatedAt:  time.Unix(int64(data.CreatedUTC), 0).UTC(),
			Engagement: max(data.Score, 0) + data.NumComments,
		})
	}
	return posts, nil
}
