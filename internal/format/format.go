// Package format renders aggregation outcomes as chat-ready text.
package format

import (
	"strings"

	"defi-scout/internal/domain"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders numbers with English thousands separators.
type Formatter struct {
	p *message.Printer
}

func New() *Formatter {
	return &Formatter{p: message.NewPrinter(language.English)}
}

var std = New()

// Format renders out with the default formatter.
func Format(out domain.Outcome) string {
	return std.Format(out)
}

// Format renders a profile, or returns a failure's message verbatim.
func (f *Formatter) Format(out domain.Outcome) string {
	switch {
	case out.Profile != nil:
		return f.Profile(out.Profile)
	case out.Failure != nil:
		return out.Failure.Message
	default:
		return ""
	}
}

// Profile renders the header, every present metric, the description and the
// disclaimer. Absent fields produce no line at all.
func (f *Formatter) Profile(p *domain.AggregatedTokenProfile) string {
	var b strings.Builder
	name := p.Name
	if name == "" {
		name = p.Symbol
	}
	b.WriteString("**" + name + " (" + p.Symbol + ")**\n")

	line := func(label, value string) {
		b.WriteString(label + ": " + value + "\n")
	}

	if m := p.Market; m != nil {
		if m.PriceUSD != nil {
			line("Price", f.Price(*m.PriceUSD))
		}
		if m.MarketCapUSD != nil {
			line("Market Cap", f.USD(*m.MarketCapUSD))
		}
		if m.Volume24hUSD != nil {
			line("24h Volume", f.USD(*m.Volume24hUSD))
		}
		if m.Change24hPct != nil {
			line("24h Change", f.Percent(*m.Change24hPct))
		}
	}
	if pr := p.Protocol; pr != nil {
		if pr.TVL != nil {
			line("Total Value Locked", f.USD(*pr.TVL))
		}
		if pr.Change1D != nil {
			line("TVL 24h Change", f.Percent(*pr.Change1D))
		}
		if pr.Category != "" {
			line("Category", pr.Category)
		}
		if len(pr.Chains) > 0 {
			line("Chains", strings.Join(pr.Chains, ", "))
		}
	}
	if oc := p.OnChain; oc != nil && oc.Holders != nil {
		holders := f.p.Sprintf("%d", *oc.Holders)
		if oc.Chain != "" {
			holders += " on " + oc.Chain
		}
		line("Holders", holders)
	}
	if s := p.Social; s != nil {
		line("Social", f.p.Sprintf("%s (score %.2f, %d mentions on %s)", s.Sentiment, s.SentimentScore, s.Mentions, s.Source))
	}
	if d := strings.TrimSpace(p.Description); d != "" {
		b.WriteString("\n" + d + "\n")
	}
	b.WriteString("\n" + domain.Disclaimer)
	return b.String()
}

// Price uses 2 decimals from $1 up, 4 from a cent up, 6 below that.
func (f *Formatter) Price(v float64) string {
	switch abs := absf(v); {
	case abs >= 1:
		return f.p.Sprintf("$%.2f", v)
	case abs >= 0.01:
		return f.p.Sprintf("$%.4f", v)
	default:
		return f.p.Sprintf("$%.6f", v)
	}
}

// USD renders aggregates such as market cap, volume and TVL in whole dollars.
func (f *Formatter) USD(v float64) string {
	return f.p.Sprintf("$%.0f", v)
}

func (f *Formatter) Percent(v float64) string {
	return f.p.Sprintf("%+.2f%%", v)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
