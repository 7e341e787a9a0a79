package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"defi-scout/internal/domain"
	"defi-scout/internal/provider"
	"defi-scout/internal/resolver"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"
)

func f64(v float64) *float64 { return &v }

func uniOutcome() domain.Outcome {
	return domain.Outcome{Profile: &domain.AggregatedTokenProfile{
		Symbol: "UNI",
		Name:   "Uniswap",
		Market: &domain.MarketMetrics{PriceUSD: f64(7.25)},
	}}
}

func newTestAdvisor(t *testing.T, llm LLMClient, agg TokenAggregator, store ConversationStore, opts ...Option) *AdvisorService {
	t.Helper()
	r, err := resolver.Default()
	if err != nil {
		t.Fatalf("load resolver: %v", err)
	}
	return NewAdvisorService(
		trace.NewNoopTracerProvider().Tracer("test"),
		llm, agg, r, store, "gpt-4o-mini", 20, opts...,
	)
}

func TestAskHappyPath(t *testing.T) {
	llm := &stubLLMClient{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "UNI trades at $7.25"}},
			},
		},
	}
	store := &stubConvStore{}
	agg := &stubAggregator{outcomes: map[string]domain.Outcome{"UNI": uniOutcome()}}

	svc := newTestAdvisor(t, llm, agg, store)

	reply, err := svc.Ask(context.Background(), 123, "What about $UNI?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "UNI trades at $7.25" {
		t.Fatalf("expected LLM reply, got %q", reply)
	}
	if len(store.messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(store.messages))
	}
	if store.messages[0].role != "user" || store.messages[1].role != "assistant" {
		t.Fatalf("unexpected roles: %s, %s", store.messages[0].role, store.messages[1].role)
	}
	if len(llm.params.Messages) != 2 {
		t.Fatalf("expected system prompt plus user message, got %d", len(llm.params.Messages))
	}
	system := llm.params.Messages[0].OfSystem
	if system == nil || !strings.Contains(system.Content.OfString.Value, "Price: $7.25") {
		t.Fatal("expected formatted profile in system prompt")
	}
}

func TestAskWithoutLLMReturnsContext(t *testing.T) {
	store := &stubConvStore{}
	agg := &stubAggregator{outcomes: map[string]domain.Outcome{"UNI": uniOutcome()}}
	news := &stubNews{about: []provider.Headline{{Title: "Uniswap ships v4 hooks", Channel: "CoinDesk"}}}

	svc := newTestAdvisor(t, nil, agg, store, WithNews(news))

	reply, err := svc.Ask(context.Background(), 7, "tell me about $uni")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "**Uniswap (UNI)**") {
		t.Fatalf("expected formatted profile, got %q", reply)
	}
	if !strings.Contains(reply, domain.Disclaimer) {
		t.Fatal("expected disclaimer in formatted profile")
	}
	if !strings.Contains(reply, "Uniswap ships v4 hooks") {
		t.Fatal("expected token headlines in context")
	}
	if news.aboutSymbol != "UNI" {
		t.Fatalf("expected headlines about UNI, got %q", news.aboutSymbol)
	}
	if len(store.messages) != 2 || store.messages[1].content != reply {
		t.Fatal("expected the context reply to be stored as the assistant message")
	}
}

func TestAskUnresolvedMentionBecomesClarification(t *testing.T) {
	agg := &stubAggregator{}
	svc := newTestAdvisor(t, nil, agg, nil)

	reply, err := svc.Ask(context.Background(), 1, "is $FAKECOIN123 legit?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(reply, "Clarification needed") || !strings.Contains(reply, "FAKECOIN123") {
		t.Fatalf("expected clarification prompt, got %q", reply)
	}
}

func TestAskAggregatesMentionsOneAtATime(t *testing.T) {
	agg := &stubAggregator{outcomes: map[string]domain.Outcome{
		"UNI": uniOutcome(),
		"AAVE": {Failure: &domain.AggregationFailure{
			Symbol:  "AAVE",
			Message: "no reliable data for AAVE",
		}},
	}}
	svc := newTestAdvisor(t, nil, agg, nil)

	reply, err := svc.Ask(context.Background(), 1, "compare $UNI and $AAVE, and UNI again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agg.inputs) != 2 || agg.inputs[0] != "$UNI" || agg.inputs[1] != "$AAVE" {
		t.Fatalf("expected $UNI then $AAVE, got %v", agg.inputs)
	}
	if !strings.Contains(reply, "no reliable data for AAVE") {
		t.Fatal("expected failure message verbatim")
	}
}

func TestAskWithoutMentionsUsesNewsAndMood(t *testing.T) {
	news := &stubNews{latest: []provider.Headline{{Title: "Bitcoin ETF inflows rise", Channel: "Cointelegraph"}}}
	mood := &stubMood{point: &provider.FearGreedPoint{Value: 25, Classification: "Fear"}}
	agg := &stubAggregator{}

	svc := newTestAdvisor(t, nil, agg, nil, WithNews(news), WithMood(mood))

	reply, err := svc.Ask(context.Background(), 1, "how is the market today?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agg.inputs) != 0 {
		t.Fatalf("expected no aggregation, got %v", agg.inputs)
	}
	if !strings.Contains(reply, "Bitcoin ETF inflows rise") || !strings.Contains(reply, "Fear & Greed index 25 (Fear)") {
		t.Fatalf("expected news and mood, got %q", reply)
	}
}

func TestAskNewsAndMoodFailuresNonFatal(t *testing.T) {
	svc := newTestAdvisor(t, nil, &stubAggregator{}, nil,
		WithNews(&stubNews{err: errors.New("feed down")}),
		WithMood(&stubMood{err: errors.New("api down")}),
	)

	reply, err := svc.Ask(context.Background(), 1, "anything new?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "No token data currently available." {
		t.Fatalf("expected fallback text, got %q", reply)
	}
}

func TestAskLLMError(t *testing.T) {
	llm := &stubLLMClient{err: errors.New("api down")}
	store := &stubConvStore{}

	svc := newTestAdvisor(t, llm, &stubAggregator{}, store)

	_, err := svc.Ask(context.Background(), 123, "What looks good?")
	if err == nil {
		t.Fatal("expected error from LLM failure")
	}
	if len(store.messages) != 1 || store.messages[0].role != "user" {
		t.Fatalf("expected user message to be stored despite LLM error, got %d messages", len(store.messages))
	}
}

func TestAskConversationStoreFailureNonFatal(t *testing.T) {
	llm := &stubLLMClient{
		response: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "response"}},
			},
		},
	}
	store := &stubConvStore{appendErr: errors.New("db down"), recentErr: errors.New("db down")}

	svc := newTestAdvisor(t, llm, &stubAggregator{}, store)

	reply, err := svc.Ask(context.Background(), 123, "test")
	if err != nil {
		t.Fatalf("store failure should be non-fatal, got: %v", err)
	}
	if reply != "response" {
		t.Fatalf("expected 'response', got %q", reply)
	}
	if len(llm.params.Messages) != 2 {
		t.Fatalf("expected the current message even without history, got %d messages", len(llm.params.Messages))
	}
}

func TestAskCallerCancellation(t *testing.T) {
	agg := &stubAggregator{err: context.Canceled}
	svc := newTestAdvisor(t, &stubLLMClient{}, agg, nil)

	_, err := svc.Ask(context.Background(), 1, "$UNI?")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAskDefaultMaxHistory(t *testing.T) {
	svc := newTestAdvisor(t, &stubLLMClient{}, &stubAggregator{}, &stubConvStore{})
	svc2 := NewAdvisorService(trace.NewNoopTracerProvider().Tracer("test"), nil, nil, nil, nil, "m", 0)
	if svc.maxHistory != 20 || svc2.maxHistory != 20 {
		t.Fatalf("expected default maxHistory=20, got %d", svc2.maxHistory)
	}
}

// --- stubs ---

type stubLLMClient struct {
	response *openai.ChatCompletion
	err      error
	params   openai.ChatCompletionNewParams
}

func (s *stubLLMClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	s.params = params
	return s.response, s.err
}

type stubAggregator struct {
	outcomes map[string]domain.Outcome
	err      error
	inputs   []string
}

func (s *stubAggregator) Aggregate(ctx context.Context, input string) (domain.Outcome, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return domain.Outcome{}, s.err
	}
	key := strings.ToUpper(strings.TrimPrefix(input, "$"))
	out, ok := s.outcomes[key]
	if !ok {
		return domain.Outcome{}, &domain.UnresolvedSymbolError{
			Input:      input,
			Suggestion: "I couldn't find a token matching \"" + key + "\".",
		}
	}
	return out, nil
}

type stubNews struct {
	latest      []provider.Headline
	about       []provider.Headline
	aboutSymbol string
	err         error
}

func (s *stubNews) Latest(ctx context.Context, limit int) ([]provider.Headline, error) {
	return s.latest, s.err
}

func (s *stubNews) About(ctx context.Context, token domain.TokenAlias, limit int) ([]provider.Headline, error) {
	s.aboutSymbol = token.Symbol
	return s.about, s.err
}

type stubMood struct {
	point *provider.FearGreedPoint
	err   error
}

func (s *stubMood) FetchLatest(ctx context.Context) (*provider.FearGreedPoint, error) {
	return s.point, s.err
}

type storedMsg struct {
	chatID  int64
	role    string
	content string
}

type stubConvStore struct {
	messages  []storedMsg
	appendErr error
	recentErr error
}

func (s *stubConvStore) AppendMessage(ctx context.Context, chatID int64, role, content string) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.messages = append(s.messages, storedMsg{chatID: chatID, role: role, content: content})
	return nil
}

func (s *stubConvStore) RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	// Return stored messages as history (simulates reading back what was appended)
	var msgs []domain.ConversationMessage
	for _, m := range s.messages {
		if m.chatID == chatID {
			msgs = append(msgs, domain.ConversationMessage{
				Role:      m.role,
				Content:   m.content,
				CreatedAt: time.Now(),
			})
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
