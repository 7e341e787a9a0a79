package advisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defi-scout/internal/domain"
	"defi-scout/internal/format"
	"defi-scout/internal/provider"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxMentions  = 3
	maxHeadlines = 3
)

// LLMClient abstracts the OpenAI chat completions API for testability.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// TokenAggregator builds a profile or failure for free text.
type TokenAggregator interface {
	Aggregate(ctx context.Context, input string) (domain.Outcome, error)
}

// MentionExtractor finds token mentions in a chat message.
type MentionExtractor interface {
	ExtractSymbols(text string) []string
	Lookup(symbol string) (domain.TokenAlias, bool)
}

// NewsSource supplies headlines for the research context.
type NewsSource interface {
	Latest(ctx context.Context, limit int) ([]provider.Headline, error)
	About(ctx context.Context, token domain.TokenAlias, limit int) ([]provider.Headline, error)
}

// MoodSource supplies the market-wide Fear & Greed reading.
type MoodSource interface {
	FetchLatest(ctx context.Context) (*provider.FearGreedPoint, error)
}

// ConversationStore persists and retrieves conversation messages.
type ConversationStore interface {
	AppendMessage(ctx context.Context, chatID int64, role, content string) error
	RecentMessages(ctx context.Context, chatID int64, limit int) ([]domain.ConversationMessage, error)
}

type AdvisorService struct {
	tracer     trace.Tracer
	llm        LLMClient
	aggregator TokenAggregator
	mentions   MentionExtractor
	convStore  ConversationStore
	news       NewsSource
	mood       MoodSource
	formatter  *format.Formatter
	logger     *zap.Logger
	model      string
	maxHistory int
	now        func() time.Time
}

type Option func(*AdvisorService)

func WithNews(n NewsSource) Option {
	return func(s *AdvisorService) { s.news = n }
}

func WithMood(m MoodSource) Option {
	return func(s *AdvisorService) { s.mood = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *AdvisorService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewAdvisorService wires the chat pipeline. llm and convStore may be nil:
// without an LLM the assembled context is returned as the reply, without a
// store the conversation is not remembered.
func NewAdvisorService(
	tracer trace.Tracer,
	llm LLMClient,
	aggregator TokenAggregator,
	mentions MentionExtractor,
	convStore ConversationStore,
	model string,
	maxHistory int,
	opts ...Option,
) *AdvisorService {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	s := &AdvisorService{
		tracer:     tracer,
		llm:        llm,
		aggregator: aggregator,
		mentions:   mentions,
		convStore:  convStore,
		formatter:  format.New(),
		logger:     zap.NewNop(),
		model:      model,
		maxHistory: maxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AdvisorService) Ask(ctx context.Context, chatID int64, userMessage string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.ask")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", chatID))

	s.remember(ctx, chatID, domain.RoleUser, userMessage)

	researchContext, err := s.gatherContext(ctx, userMessage)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if s.llm == nil {
		s.remember(ctx, chatID, domain.RoleAssistant, researchContext)
		return researchContext, nil
	}

	var history []domain.ConversationMessage
	if s.convStore != nil {
		history, err = s.convStore.RecentMessages(ctx, chatID, s.maxHistory)
		if err != nil {
			s.logger.Warn("failed to load conversation history", zap.Int64("chat_id", chatID), zap.Error(err))
			history = nil
		}
	}
	if len(history) == 0 {
		history = []domain.ConversationMessage{{Role: domain.RoleUser, Content: userMessage}}
	}

	messages := s.buildMessages(BuildSystemPrompt(researchContext, s.now()), history)
	reply, err := s.callLLM(ctx, messages)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("advisor unavailable: %w", err)
	}

	s.remember(ctx, chatID, domain.RoleAssistant, reply)
	return reply, nil
}

func (s *AdvisorService) remember(ctx context.Context, chatID int64, role, content string) {
	if s.convStore == nil {
		return
	}
	if err := s.convStore.AppendMessage(ctx, chatID, role, content); err != nil {
		s.logger.Warn("failed to store message", zap.String("role", role), zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// gatherContext aggregates each mentioned token one at a time. Unresolved
// mentions become clarification prompts. Without any mention the context
// falls back to headlines and market mood. Only the caller's cancellation is
// returned as an error.
func (s *AdvisorService) gatherContext(ctx context.Context, userMessage string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.gather-context")
	defer span.End()

	mentions := s.mentions.ExtractSymbols(userMessage)
	if len(mentions) > maxMentions {
		mentions = mentions[:maxMentions]
	}
	span.SetAttributes(attribute.Int("mentions", len(mentions)))

	var (
		profiles       []string
		clarifications []string
		resolved       []domain.TokenAlias
		seen           = make(map[string]bool)
	)
	for _, m := range mentions {
		out, err := s.aggregator.Aggregate(ctx, m)
		var unresolved *domain.UnresolvedSymbolError
		switch {
		case errors.As(err, &unresolved):
			clarifications = append(clarifications, unresolved.Suggestion)
			continue
		case err != nil:
			return "", err
		}

		sym := out.Symbol()
		if seen[sym] {
			continue
		}
		seen[sym] = true
		profiles = append(profiles, s.formatter.Format(out))
		if tok, ok := s.mentions.Lookup(sym); ok && out.OK() {
			resolved = append(resolved, tok)
		}
	}

	var headlines []provider.Headline
	var mood *provider.FearGreedPoint
	if len(mentions) == 0 {
		headlines = s.latestHeadlines(ctx)
		mood = s.marketMood(ctx)
	} else {
		for _, tok := range resolved {
			headlines = append(headlines, s.headlinesAbout(ctx, tok)...)
		}
	}
	if len(headlines) > maxHeadlines {
		headlines = headlines[:maxHeadlines]
	}

	return FormatResearchContext(profiles, clarifications, headlines, mood), nil
}

func (s *AdvisorService) latestHeadlines(ctx context.Context) []provider.Headline {
	if s.news == nil {
		return nil
	}
	h, err := s.news.Latest(ctx, maxHeadlines)
	if err != nil {
		s.logger.Warn("news unavailable", zap.Error(err))
		return nil
	}
	return h
}

func (s *AdvisorService) headlinesAbout(ctx context.Context, tok domain.TokenAlias) []provider.Headline {
	if s.news == nil {
		return nil
	}
	h, err := s.news.About(ctx, tok, maxHeadlines)
	if err != nil {
		s.logger.Warn("news unavailable", zap.String("symbol", tok.Symbol), zap.Error(err))
		return nil
	}
	return h
}

func (s *AdvisorService) marketMood(ctx context.Context) *provider.FearGreedPoint {
	if s.mood == nil {
		return nil
	}
	p, err := s.mood.FetchLatest(ctx)
	if err != nil {
		s.logger.Warn("market mood unavailable", zap.Error(err))
		return nil
	}
	return p
}

func (s *AdvisorService) buildMessages(
	systemPrompt string,
	history []domain.ConversationMessage,
) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)

	// System prompt always first
	messages = append(messages, openai.SystemMessage(systemPrompt))

	for _, msg := range history {
		switch msg.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	return messages
}

func (s *AdvisorService) callLLM(
	ctx context.Context,
	messages []openai.ChatCompletionMessageParamUnion,
) (string, error) {
	ctx, span := s.tracer.Start(ctx, "advisor.llm-call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", s.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	completion, err := s.llm.CreateChatCompletion(ctx, openai.ChatCompletionNewParams{
		Model:    s.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	reply := completion.Choices[0].Message.Content
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
