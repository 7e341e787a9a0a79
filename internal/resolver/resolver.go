package resolver

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"defi-scout/internal/domain"

	"gopkg.in/yaml.v3"
)

//go:embed tokens.yaml
var defaultTable []byte

var tokenLikeRx = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)

// Table is the parsed token table.
type Table struct {
	Tokens []domain.TokenAlias  `yaml:"tokens"`
	Fuzzy  []domain.FuzzyFamily `yaml:"fuzzy"`
}

// ParseTable decodes a YAML token table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse token table: %w", err)
	}
	return &t, nil
}

// Resolver maps free text to canonical uppercase symbols.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	tokens  map[string]domain.TokenAlias
	aliases map[string]string
	fuzzy   []domain.FuzzyFamily
	symbols []string
}

// New builds the alias reverse index for table.
func New(table *Table) (*Resolver, error) {
	if table == nil {
		return nil, fmt.Errorf("token table is required")
	}
	r := &Resolver{
		tokens:  make(map[string]domain.TokenAlias, len(table.Tokens)),
		aliases: make(map[string]string, len(table.Tokens)*3),
	}

	for _, tok := range table.Tokens {
		sym := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("token %q has no symbol", tok.Name)
		}
		if _, dup := r.tokens[sym]; dup {
			return nil, fmt.Errorf("duplicate token symbol %s", sym)
		}
		tok.Symbol = sym
		r.tokens[sym] = tok
		r.symbols = append(r.symbols, sym)
	}

	for _, tok := range r.tokens {
		for _, alias := range tok.Aliases {
			key := normalize(alias)
			if key == "" {
				continue
			}
			if owner, ok := r.aliases[key]; ok && owner != tok.Symbol {
				return nil, fmt.Errorf("alias %q maps to both %s and %s", key, owner, tok.Symbol)
			}
			r.aliases[key] = tok.Symbol
		}
	}

	for _, fam := range table.Fuzzy {
		sym := strings.ToUpper(strings.TrimSpace(fam.Symbol))
		if _, ok := r.tokens[sym]; !ok {
			return nil, fmt.Errorf("fuzzy family references unknown symbol %s", sym)
		}
		f := domain.FuzzyFamily{Symbol: sym}
		for _, c := range fam.Contains {
			if c = normalize(c); c != "" {
				f.Contains = append(f.Contains, c)
			}
		}
		for _, e := range fam.Exact {
			if e = normalize(e); e != "" {
				f.Exact = append(f.Exact, e)
			}
		}
		r.fuzzy = append(r.fuzzy, f)
	}

	sort.Strings(r.symbols)
	return r, nil
}

// Default builds a resolver over the embedded token table.
func Default() (*Resolver, error) {
	table, err := ParseTable(defaultTable)
	if err != nil {
		return nil, err
	}
	return New(table)
}

// Resolve returns the canonical symbol for input. The bool is false when the
// input is unresolved; callers must ask the user to clarify in that case.
func (r *Resolver) Resolve(input string) (string, bool) {
	cleaned := normalize(input)
	if cleaned == "" {
		return "", false
	}

	upper := strings.ToUpper(cleaned)
	if _, ok := r.tokens[upper]; ok {
		return upper, true
	}

	for _, fam := range r.fuzzy {
		for _, e := range fam.Exact {
			if cleaned == e {
				return fam.Symbol, true
			}
		}
		for _, c := range fam.Contains {
			if strings.Contains(cleaned, c) {
				return fam.Symbol, true
			}
		}
	}

	if sym, ok := r.aliases[cleaned]; ok {
		return sym, true
	}
	return "", false
}

// Lookup returns the table entry for a canonical symbol.
func (r *Resolver) Lookup(symbol string) (domain.TokenAlias, bool) {
	tok, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return tok, ok
}

// Symbols lists every canonical symbol in alphabetical order.
func (r *Resolver) Symbols() []string {
	return append([]string(nil), r.symbols...)
}

// SuggestionMessage produces help text for input. It never calls out.
func (r *Resolver) SuggestionMessage(input string) string {
	cleaned := normalize(input)
	if cleaned == "" {
		return genericGuidance
	}
	if sym, ok := r.Resolve(input); ok {
		tok := r.tokens[sym]
		return fmt.Sprintf("Showing results for $%s (%s).", sym, tok.Name)
	}
	if tokenLikeRx.MatchString(cleaned) {
		guess := strings.ToUpper(cleaned)
		return fmt.Sprintf(
			"I couldn't find a token matching \"%s\". If you meant the ticker $%s, check the spelling or try the project name instead (for example \"uniswap\" or $UNI).",
			guess, guess,
		)
	}
	return genericGuidance
}

const genericGuidance = "Please mention a token by its ticker (for example $ETH or $UNI) or by its project name."

var mentionRx = regexp.MustCompile(`\$[A-Za-z][A-Za-z0-9]{0,19}`)

// ExtractSymbols returns the token mentions in text in order of appearance:
// every $symbol mention plus bare uppercase words equal to a known symbol.
// Mentions are returned raw; callers resolve them one at a time.
func (r *Resolver) ExtractSymbols(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(m string) {
		key := normalize(m)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, m)
	}

	type hit struct {
		pos  int
		text string
	}
	var hits []hit
	for _, loc := range mentionRx.FindAllStringIndex(text, -1) {
		hits = append(hits, hit{pos: loc[0], text: text[loc[0]:loc[1]]})
	}

	pos := 0
	for _, w := range strings.FieldsFunc(text, func(c rune) bool {
		return !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '$')
	}) {
		idx := strings.Index(text[pos:], w) + pos
		pos = idx + len(w)
		if strings.HasPrefix(w, "$") || w != strings.ToUpper(w) {
			continue
		}
		if _, ok := r.tokens[w]; ok {
			hits = append(hits, hit{pos: idx, text: w})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for _, h := range hits {
		add(h.text)
	}
	return out
}

func normalize(input string) string {
	s := strings.TrimFunc(input, func(c rune) bool {
		return unicode.IsSpace(c) || unicode.IsPunct(c) || unicode.IsSymbol(c)
	})
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
