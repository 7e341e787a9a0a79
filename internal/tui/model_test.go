package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"defi-scout/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAggregator struct {
	out domain.Outcome
	err error
}

func (s stubAggregator) Aggregate(ctx context.Context, input string) (domain.Outcome, error) {
	return s.out, s.err
}

type stubAdvisor struct {
	sessionID int64
}

func (s *stubAdvisor) Ask(ctx context.Context, chatID int64, message string) (string, error) {
	s.sessionID = chatID
	return "answer to " + message, nil
}

func uniOutcome() domain.Outcome {
	price := 7.25
	return domain.Outcome{Profile: &domain.AggregatedTokenProfile{
		Symbol: "UNI", Name: "Uniswap", Market: &domain.MarketMetrics{PriceUSD: &price},
	}}
}

func TestLookupRendersProfile(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{out: uniOutcome()}, Username: "alice"})
	m.SetSize(100, 40)
	assert.Contains(t, m.View(), "Welcome, alice")

	msg := m.lookup("uni")()
	resp, ok := msg.(responseMsg)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(string(resp), "**Uniswap (UNI)**"))

	m.loading = true
	_, _ = m.Update(resp)
	assert.False(t, m.loading)
	assert.Contains(t, m.View(), "Price: $7.25")
}

func TestLookupUnresolvedShowsSuggestion(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{err: &domain.UnresolvedSymbolError{Input: "zzz", Suggestion: "no token called ZZZ"}}})
	msg := m.lookup("zzz")()
	assert.Equal(t, responseMsg("no token called ZZZ"), msg)
}

func TestLookupErrorIsShown(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{err: errors.New("boom")}})
	msg := m.lookup("uni")()
	_, ok := msg.(errorMsg)
	require.True(t, ok)

	_, _ = m.Update(msg)
	assert.Contains(t, m.View(), "error: lookup \"uni\" failed: boom")
}

func TestSubmitClearsInputAndStartsLoading(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{out: uniOutcome()}})
	m.input.SetValue("  ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, m.loading)

	m.input.SetValue("$uni")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.NotNil(t, cmd)
	assert.True(t, m.loading)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "fetching")
}

func TestTabTogglesAskModeOnlyWithAdvisor(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{}})
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, modeLookup, m.mode)
	assert.NotContains(t, m.View(), "tab:")

	adv := &stubAdvisor{}
	m = NewAppModel(Services{Aggregator: stubAggregator{}, Advisor: adv, SessionID: 77})
	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, modeAsk, m.mode)
	assert.Contains(t, m.View(), "[ask]")

	msg := m.ask("how is $UNI?")()
	assert.Equal(t, responseMsg("answer to how is $UNI?"), msg)
	assert.Equal(t, int64(77), adv.sessionID)
}

func TestEscQuits(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{}})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, "Bye!\n", m.View())
}

func TestWindowResize(t *testing.T) {
	m := NewAppModel(Services{Aggregator: stubAggregator{}})
	_, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	assert.Equal(t, 118, m.output.Width)
	assert.Equal(t, 43, m.output.Height)

	m.SetSize(0, 0)
	assert.Equal(t, 118, m.output.Width)
}
