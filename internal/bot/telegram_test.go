package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"defi-scout/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartTelegramBotSkipsWithoutToken(t *testing.T) {
	require.NoError(t, StartTelegramBot(context.Background(), "", nil, nil))
}

type stubAggregator struct {
	out domain.Outcome
	err error
}

func (s stubAggregator) Aggregate(ctx context.Context, input string) (domain.Outcome, error) {
	return s.out, s.err
}

type stubAdvisor struct {
	reply  string
	err    error
	chatID int64
}

func (s *stubAdvisor) Ask(ctx context.Context, chatID int64, message string) (string, error) {
	s.chatID = chatID
	return s.reply, s.err
}

func TestTokenCommand(t *testing.T) {
	price := 1.5
	cmds := NewCommands(stubAggregator{out: domain.Outcome{Profile: &domain.AggregatedTokenProfile{
		Symbol: "UNI", Name: "Uniswap", Market: &domain.MarketMetrics{PriceUSD: &price},
	}}}, nil, nil, nil)

	reply := cmds.Token(context.Background(), "uniswap")
	assert.True(t, strings.HasPrefix(reply, "**Uniswap (UNI)**"))
	assert.Contains(t, reply, "Price: $1.50")
	assert.Equal(t, tokenUsage, cmds.Token(context.Background(), "  "))
}

func TestTokenCommandErrors(t *testing.T) {
	cmds := NewCommands(stubAggregator{err: &domain.UnresolvedSymbolError{Input: "XYZ", Suggestion: "did you mean something else?"}}, nil, nil, nil)
	assert.Equal(t, "did you mean something else?", cmds.Token(context.Background(), "XYZ"))

	cmds = NewCommands(stubAggregator{err: errors.New("boom")}, nil, nil, nil)
	assert.Contains(t, cmds.Token(context.Background(), "UNI"), "Something went wrong")

	msg := "no data for UNI"
	cmds = NewCommands(stubAggregator{out: domain.Outcome{Failure: &domain.AggregationFailure{Symbol: "UNI", Message: msg}}}, nil, nil, nil)
	assert.Equal(t, msg, cmds.Token(context.Background(), "UNI"))
}

func TestAskCommand(t *testing.T) {
	adv := &stubAdvisor{reply: "AAVE has $10B locked"}
	cmds := NewCommands(stubAggregator{}, adv, nil, nil)

	assert.Equal(t, "AAVE has $10B locked", cmds.Ask(context.Background(), 99, "tvl of $AAVE?"))
	assert.Equal(t, int64(99), adv.chatID)
	assert.Equal(t, askUsage, cmds.Ask(context.Background(), 99, ""))

	adv.err = errors.New("llm down")
	assert.Contains(t, cmds.Ask(context.Background(), 99, "hi"), "unavailable")

	disabled := NewCommands(stubAggregator{}, nil, nil, nil)
	assert.Contains(t, disabled.Ask(context.Background(), 1, "hi"), "not enabled")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", maxMessageLen+10)
	out := truncate(long)
	assert.Equal(t, maxMessageLen+1, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "…"))
	assert.Equal(t, "short", truncate("short"))
}
