// Package mcpserver exposes token resolution and aggregation as MCP tools.
package mcpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"defi-scout/internal/domain"
	"defi-scout/internal/format"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	serverName    = "defi-scout"
	serverVersion = "1.0.0"
)

type SymbolResolver interface {
	Resolve(input string) (string, bool)
	SuggestionMessage(input string) string
}

type TokenAggregator interface {
	Aggregate(ctx context.Context, input string) (domain.Outcome, error)
}

type QueryInput struct {
	Query string `json:"query" jsonschema:"ticker, project name or alias, e.g. $UNI or uniswap"`
}

type ResolveOutput struct {
	Symbol     string `json:"symbol,omitempty"`
	Resolved   bool   `json:"resolved"`
	Suggestion string `json:"suggestion,omitempty"`
}

type SummaryOutput struct {
	Symbol  string `json:"symbol"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
}

// profileOutput is returned without an output schema; profiles carry
// timestamps and per-source latencies the inferred schema would reject.
type profileOutput struct {
	Success bool                           `json:"success"`
	Profile *domain.AggregatedTokenProfile `json:"profile,omitempty"`
	Failure *domain.AggregationFailure     `json:"failure,omitempty"`
}

type Server struct {
	resolver   SymbolResolver
	aggregator TokenAggregator
	formatter  *format.Formatter
	tracer     trace.Tracer
	logger     *zap.Logger
	timeout    time.Duration
}

func New(tracer trace.Tracer, logger *zap.Logger, resolver SymbolResolver, aggregator TokenAggregator, timeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		resolver:   resolver,
		aggregator: aggregator,
		formatter:  format.New(),
		tracer:     tracer,
		logger:     logger,
		timeout:    timeout,
	}
}

// MCP builds a protocol server with every tool registered.
func (s *Server) MCP() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "resolve_token",
		Description: "Map a ticker, project name or alias to its canonical token symbol.",
	}, s.resolveTool)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_token_profile",
		Description: "Aggregate market, DeFi protocol, social and on-chain data for a token as JSON.",
	}, s.profileTool)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_token_summary",
		Description: "Chat-ready text summary of a token, risk disclaimer included.",
	}, s.summaryTool)

	return srv
}

// RunStdio serves one client over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("MCP server listening on stdio")
	return s.MCP().Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport. A non-empty authToken
// requires "Authorization: Bearer <token>".
func (s *Server) HTTPHandler(authToken string) http.Handler {
	srv := s.MCP()
	h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
	if authToken == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(authToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) resolveTool(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, ResolveOutput, error) {
	_, span := s.tracer.Start(ctx, "mcp.resolve-token")
	defer span.End()

	if strings.TrimSpace(in.Query) == "" {
		return nil, ResolveOutput{}, errors.New("query is required")
	}
	if sym, ok := s.resolver.Resolve(in.Query); ok {
		span.SetAttributes(attribute.String("symbol", sym))
		return nil, ResolveOutput{Symbol: sym, Resolved: true}, nil
	}
	return nil, ResolveOutput{Suggestion: s.resolver.SuggestionMessage(in.Query)}, nil
}

func (s *Server) profileTool(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, any, error) {
	ctx, span := s.tracer.Start(ctx, "mcp.get-token-profile")
	defer span.End()

	out, err := s.aggregate(ctx, in.Query)
	if err != nil {
		return nil, nil, err
	}
	return nil, profileOutput{Success: out.OK(), Profile: out.Profile, Failure: out.Failure}, nil
}

func (s *Server) summaryTool(ctx context.Context, _ *mcp.CallToolRequest, in QueryInput) (*mcp.CallToolResult, SummaryOutput, error) {
	ctx, span := s.tracer.Start(ctx, "mcp.get-token-summary")
	defer span.End()

	out, err := s.aggregate(ctx, in.Query)
	if err != nil {
		return nil, SummaryOutput{}, err
	}
	text := s.formatter.Format(out)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, SummaryOutput{Symbol: out.Symbol(), Success: out.OK(), Summary: text}, nil
}

// aggregate bounds the call and turns an unresolved symbol into a tool error
// carrying the suggestion.
func (s *Server) aggregate(ctx context.Context, query string) (domain.Outcome, error) {
	if strings.TrimSpace(query) == "" {
		return domain.Outcome{}, errors.New("query is required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.aggregator.Aggregate(ctx, query)
	var unresolved *domain.UnresolvedSymbolError
	switch {
	case errors.As(err, &unresolved):
		return domain.Outcome{}, errors.New(unresolved.Suggestion)
	case err != nil:
		s.logger.Warn("mcp aggregation failed", zap.String("query", query), zap.Error(err))
		return domain.Outcome{}, fmt.Errorf("aggregate %q: %w", query, err)
	}
	return out, nil
}
