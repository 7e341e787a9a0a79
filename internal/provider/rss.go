package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"defi-scout/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

// DefaultNewsFeeds are used when NEWS_FEEDS is empty.
var DefaultNewsFeeds = []string{
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
	"https://cointelegraph.com/rss",
}

// Headline is one news item.
type Headline struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Channel     string    `json:"channel"`
	Excerpt     string    `json:"excerpt,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// NewsProvider reads RSS feeds for chat context.
type NewsProvider struct {
	fetcher *Fetcher
	feeds   []string
	tracer  trace.Tracer
	now     func() time.Time
}

func NewNewsProvider(tracer trace.Tracer, feeds []string, cfg FetchConfig) *NewsProvider {
	if len(feeds) == 0 {
		feeds = DefaultNewsFeeds
	}
	cfg = cfg.withDefaults()
	return &NewsProvider{
		fetcher: NewFetcher("news", nil, nil, cfg),
		feeds:   feeds,
		tracer:  tracer,
		now:     time.Now,
	}
}

// Latest merges every feed newest first. Feeds that fail are skipped; an
// error is returned only when all of them fail.
func (p *NewsProvider) Latest(ctx context.Context, limit int) ([]Headline, error) {
	ctx, span := p.tracer.Start(ctx, "news.latest")
	defer span.End()

	var all []Headline
	var lastErr error
	ok := 0
	for _, feed := range p.feeds {
		items, err := p.FetchFeed(ctx, feed, 40)
		if err != nil {
			lastErr = err
			continue
		}
		ok++
		all = append(all, items...)
	}
	if ok == 0 && lastErr != nil {
		return nil, lastErr
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].PublishedAt.After(all[j].PublishedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// About returns the newest headlines that mention the token symbol or name.
func (p *NewsProvider) About(ctx context.Context, token domain.TokenAlias, limit int) ([]Headline, error) {
	all, err := p.Latest(ctx, 0)
	if err != nil {
		return nil, err
	}
	pattern := mentionPattern(token)
	out := make([]Headline, 0, limit)
	for _, h := range all {
		if pattern.MatchString(h.Title) || pattern.MatchString(h.Excerpt) {
			out = append(out, h)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func mentionPattern(token domain.TokenAlias) *regexp.Regexp {
	terms := []string{regexp.QuoteMeta(token.Symbol)}
	if name := strings.TrimSpace(token.Name); name != "" && !strings.EqualFold(name, token.Symbol) {
		terms = append(terms, regexp.QuoteMeta(name))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(terms, "|") + `)\b`)
}

func (p *NewsProvider) FetchFeed(ctx context.Context, feedURL string, maxItems int) ([]Headline, error) {
	ctx, span := p.tracer.Start(ctx, "news.fetch-feed")
	defer span.End()

	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if maxItems <= 0 {
		maxItems = 40
	}

	header := http.Header{}
	header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	resp, err := p.fetcher.Get(ctx, feedURL, header)
	if err != nil {
		return nil, requestError("news", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.ProviderError{Provider: "news", Reason: "rss fetch error: " + sanitizeText(string(body), 160), StatusCode: resp.StatusCode}
	}

	var rss struct {
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				PubDate     string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&rss); err != nil {
		return nil, fmt.Errorf("decode rss payload: %w", err)
	}

	channel := sanitizeText(rss.Channel.Title, 120)
	items := make([]Headline, 0, min(maxItems, len(rss.Channel.Items)))
	for i, row := range rss.Channel.Items {
		if i >= maxItems {
			break
		}
		title := sanitizeText(row.Title, 300)
		if title == "" {
			continue
		}
		publishedAt := parseRSSDate(row.PubDate)
		if publishedAt.IsZero() {
			publishedAt = p.now().UTC()
		}
		items = append(items, Headline{
			Title:       title,
			URL:         sanitizeText(row.Link, 500),
			Channel:     channel,
			Excerpt:     sanitizeText(htmlStrip(row.Description), 420),
			PublishedAt: publishedAt,
		})
	}
	return items, nil
}

func parseRSSDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func htmlStrip(in string) string {
	if strings.TrimSpace(in) == "" {
		return ""
	}
	var b strings.Builder
	inside := false
	for _, r := range in {
		switch r {
		case '<':
			inside = true
			continue
		case '>':
			inside = false
			continue
		}
		if !inside {
			b.WriteRune(r)
		}
	}
	return b.String()
}
