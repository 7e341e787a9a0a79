// Package tui is the interactive token lookup served over SSH.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"defi-scout/internal/domain"
	"defi-scout/internal/format"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const requestTimeout = 45 * time.Second

type TokenAggregator interface {
	Aggregate(ctx context.Context, input string) (domain.Outcome, error)
}

type AdvisorQuerier interface {
	Ask(ctx context.Context, chatID int64, message string) (string, error)
}

// Services are the back-ends one SSH session talks to. Advisor is optional.
type Services struct {
	Aggregator TokenAggregator
	Advisor    AdvisorQuerier
	// SessionID keys the advisor conversation.
	SessionID int64
	Username  string
}

type mode int

const (
	modeLookup mode = iota
	modeAsk
)

func (m mode) String() string {
	if m == modeAsk {
		return "ask"
	}
	return "lookup"
}

type responseMsg string

type errorMsg struct{ err error }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	modeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63"))
)

type AppModel struct {
	svc       Services
	formatter *format.Formatter

	input    textinput.Model
	output   viewport.Model
	spinner  spinner.Model
	mode     mode
	loading  bool
	lastErr  error
	width    int
	height   int
	quitting bool
}

func NewAppModel(svc Services) *AppModel {
	ti := textinput.New()
	ti.Placeholder = "symbol or project name, e.g. $UNI or uniswap"
	ti.CharLimit = 200
	ti.Focus()

	m := &AppModel{
		svc:       svc,
		formatter: format.New(),
		input:     ti,
		output:    viewport.New(80, 20),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	m.output.SetContent(welcome(svc.Username))
	return m
}

func welcome(username string) string {
	if username == "" {
		username = "there"
	}
	return fmt.Sprintf("Welcome, %s. Type a token and press enter.\n\n%s", username, domain.Disclaimer)
}

// SetSize lays the viewport out below the header and above the prompt.
func (m *AppModel) SetSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	m.input.Width = width - 4
	m.output.Width = width - 2
	m.output.Height = max(height-7, 3)
}

func (m *AppModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyTab:
			if m.svc.Advisor != nil {
				m.toggleMode()
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		}

	case responseMsg:
		m.loading = false
		m.lastErr = nil
		m.output.SetContent(string(msg))
		m.output.GotoTop()
		return m, nil

	case errorMsg:
		m.loading = false
		m.lastErr = msg.err
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *AppModel) toggleMode() {
	if m.mode == modeLookup {
		m.mode = modeAsk
		m.input.Placeholder = "ask about tokens, mention them as $SYMBOL"
	} else {
		m.mode = modeLookup
		m.input.Placeholder = "symbol or project name, e.g. $UNI or uniswap"
	}
}

func (m *AppModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.loading {
		return nil
	}
	m.input.Reset()
	m.loading = true
	m.lastErr = nil

	var run tea.Cmd
	if m.mode == modeAsk {
		run = m.ask(text)
	} else {
		run = m.lookup(text)
	}
	return tea.Batch(run, m.spinner.Tick)
}

func (m *AppModel) lookup(query string) tea.Cmd {
	agg, formatter := m.svc.Aggregator, m.formatter
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		out, err := agg.Aggregate(ctx, query)
		var unresolved *domain.UnresolvedSymbolError
		switch {
		case errors.As(err, &unresolved):
			return responseMsg(unresolved.Suggestion)
		case err != nil:
			return errorMsg{fmt.Errorf("lookup %q failed: %w", query, err)}
		}
		return responseMsg(formatter.Format(out))
	}
}

func (m *AppModel) ask(question string) tea.Cmd {
	advisor, sessionID := m.svc.Advisor, m.svc.SessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		reply, err := advisor.Ask(ctx, sessionID, question)
		if err != nil {
			return errorMsg{err}
		}
		return responseMsg(reply)
	}
}

func (m *AppModel) View() string {
	if m.quitting {
		return "Bye!\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("DeFi Scout"))
	b.WriteString("  " + modeStyle.Render("["+m.mode.String()+"]") + "\n")
	b.WriteString(borderStyle.Render(m.output.View()) + "\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " fetching...\n")
	case m.lastErr != nil:
		b.WriteString(errorStyle.Render("error: "+m.lastErr.Error()) + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(m.input.View() + "\n")

	help := "enter: submit • ↑/↓: scroll • esc: quit"
	if m.svc.Advisor != nil {
		help = "tab: lookup/ask • " + help
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}
