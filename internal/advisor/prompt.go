package advisor

import (
	"fmt"
	"strings"
	"time"

	"defi-scout/internal/provider"
)

const researchPhilosophy = `You are DeFi Scout, a crypto research assistant. Your role is to explain the token data you are given, NOT to predict prices or tell the user what to buy.

Rules:
- Only use figures from the token data below. Never fabricate numbers.
- If a figure is missing, say it is unavailable rather than estimating it.
- When a token could not be identified, repeat the clarification and ask the user to confirm the ticker.
- Mention the source of a figure (market data, DeFi protocol data, social or on-chain) when it matters.
- Keep responses concise. You are talking via a chat app.
- End every answer about a specific token with a one-line reminder that this is not financial advice.`

// BuildSystemPrompt embeds the gathered research context in the system
// prompt.
func BuildSystemPrompt(researchContext string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(researchPhilosophy)
	sb.WriteString("\n\n--- TOKEN DATA (as of ")
	sb.WriteString(now.UTC().Format(time.RFC822))
	sb.WriteString(") ---\n")
	sb.WriteString(researchContext)
	return sb.String()
}

// contextSection is one block of the research context.
type contextSection struct {
	title string
	body  string
}

// FormatResearchContext joins the formatted token profiles, clarification
// prompts, headlines and market mood into one context string.
func FormatResearchContext(profiles, clarifications []string, headlines []provider.Headline, mood *provider.FearGreedPoint) string {
	var sections []contextSection
	for _, p := range profiles {
		sections = append(sections, contextSection{body: p})
	}
	for _, c := range clarifications {
		sections = append(sections, contextSection{title: "Clarification needed", body: c})
	}
	if len(headlines) > 0 {
		var sb strings.Builder
		for _, h := range headlines {
			sb.WriteString(fmt.Sprintf("  - %s (%s)", h.Title, h.Channel))
			if !h.PublishedAt.IsZero() {
				sb.WriteString(" " + h.PublishedAt.UTC().Format("Jan 2 15:04"))
			}
			sb.WriteString("\n")
		}
		sections = append(sections, contextSection{title: "Recent headlines", body: strings.TrimRight(sb.String(), "\n")})
	}
	if mood != nil {
		sections = append(sections, contextSection{
			title: "Market mood",
			body:  fmt.Sprintf("Fear & Greed index %d (%s)", mood.Value, mood.Classification),
		})
	}

	if len(sections) == 0 {
		return "No token data currently available."
	}
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if s.title == "" {
			parts = append(parts, s.body)
			continue
		}
		parts = append(parts, s.title+":\n"+s.body)
	}
	return strings.Join(parts, "\n\n")
}
