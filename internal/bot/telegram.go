package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"defi-scout/internal/domain"
	"defi-scout/internal/format"
	"defi-scout/internal/observability"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

const (
	tokenUsage = "Usage: /token UNI\nAlso works with project names, e.g. /token uniswap"
	askUsage   = "Usage: /ask what is the TVL of $AAVE?"
	// telegram rejects messages above 4096 characters
	maxMessageLen = 4000
)

type TokenAggregator interface {
	Aggregate(ctx context.Context, input string) (domain.Outcome, error)
}

type ChatAdvisor interface {
	Ask(ctx context.Context, chatID int64, message string) (string, error)
}

// Commands holds the replies behind every bot command, independent of the
// Telegram transport.
type Commands struct {
	aggregator TokenAggregator
	advisor    ChatAdvisor
	formatter  *format.Formatter
	metrics    *observability.Metrics
	logger     *zap.Logger
	timeout    time.Duration
}

// NewCommands builds the command set. advisor may be nil, in which case /ask
// answers that chat is disabled.
func NewCommands(aggregator TokenAggregator, advisor ChatAdvisor, metrics *observability.Metrics, logger *zap.Logger) *Commands {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Commands{
		aggregator: aggregator,
		advisor:    advisor,
		formatter:  format.New(),
		metrics:    metrics,
		logger:     logger,
		timeout:    30 * time.Second,
	}
}

// Token answers /token <query>.
func (c *Commands) Token(ctx context.Context, query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return tokenUsage
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.aggregator.Aggregate(ctx, query)
	var unresolved *domain.UnresolvedSymbolError
	switch {
	case errors.As(err, &unresolved):
		return unresolved.Suggestion
	case err != nil:
		c.logger.Warn("token command failed", zap.String("query", query), zap.Error(err))
		return "Something went wrong while looking up " + query + ". Please try again."
	}
	return truncate(c.formatter.Format(out))
}

// Ask answers /ask <question> and plain text messages.
func (c *Commands) Ask(ctx context.Context, chatID int64, question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return askUsage
	}
	if c.advisor == nil {
		return "Chat is not enabled on this bot. Try /token instead."
	}
	c.metrics.RecordChat("telegram")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.advisor.Ask(ctx, chatID, question)
	if err != nil {
		c.logger.Warn("ask command failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return "The assistant is unavailable right now. Please try again later."
	}
	return truncate(reply)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen]) + "…"
}

// StartTelegramBot long-polls Telegram until ctx is done. An empty token
// skips startup.
func StartTelegramBot(ctx context.Context, token string, cmds *Commands, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if token == "" {
		logger.Info("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return err
	}
	register(b, cmds)

	logger.Info("Telegram bot started")
	go b.Start()
	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	return nil
}

func register(b *tele.Bot, cmds *Commands) {
	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	b.Handle("/start", func(c tele.Context) error {
		return c.Send("Hi! Send /token <symbol or name> for a token profile, or ask a question mentioning $symbols.\n\n" + domain.Disclaimer)
	})
	b.Handle("/token", func(c tele.Context) error {
		return c.Send(cmds.Token(context.Background(), c.Message().Payload))
	})
	b.Handle("/ask", func(c tele.Context) error {
		return c.Send(cmds.Ask(context.Background(), c.Chat().ID, c.Message().Payload))
	})
	b.Handle(tele.OnText, func(c tele.Context) error {
		return c.Send(cmds.Ask(context.Background(), c.Chat().ID, c.Text()))
	})
}
