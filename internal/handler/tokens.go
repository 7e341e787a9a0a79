package handler

import (
	"errors"
	"net/http"
	"strings"

	"defi-scout/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ResolveResponse is the result of GET /api/resolve.
type ResolveResponse struct {
	Query      string `json:"query"`
	Symbol     string `json:"symbol,omitempty"`
	Resolved   bool   `json:"resolved"`
	Suggestion string `json:"suggestion,omitempty"`
}

// TokenResponse wraps a profile or an aggregation failure.
type TokenResponse struct {
	Success bool                           `json:"success"`
	Profile *domain.AggregatedTokenProfile `json:"profile,omitempty"`
	Failure *domain.AggregationFailure     `json:"failure,omitempty"`
}

// Resolve godoc
// @Summary      Resolve free text to a token symbol
// @Description  Maps a ticker, project name or alias to its canonical symbol
// @Tags         tokens
// @Produce      json
// @Param        q  query  string  true  "Ticker, name or alias (e.g. $uni, uniswap)"
// @Success      200  {object}  ResolveResponse
// @Failure      400  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/resolve [get]
func (h *Handler) Resolve(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.resolve")
	defer span.End()

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	resp := ResolveResponse{Query: q}
	if sym, ok := h.resolver.Resolve(q); ok {
		resp.Symbol, resp.Resolved = sym, true
		span.SetAttributes(attribute.String("symbol", sym))
	} else {
		resp.Suggestion = h.resolver.SuggestionMessage(q)
	}
	c.JSON(http.StatusOK, resp)
}

// GetToken godoc
// @Summary      Aggregate a token profile
// @Description  Resolves the query and merges market, protocol, social and on-chain data
// @Tags         tokens
// @Produce      json
// @Param        query  path  string  true  "Ticker, name or alias"
// @Success      200  {object}  TokenResponse
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/tokens/{query} [get]
func (h *Handler) GetToken(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-token")
	defer span.End()

	query := c.Param("query")
	span.SetAttributes(attribute.String("query", query))

	out, err := h.aggregator.Aggregate(ctx, query)
	if err != nil {
		h.writeAggregateError(c, query, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Success: out.OK(), Profile: out.Profile, Failure: out.Failure})
}

// GetTokenSummary godoc
// @Summary      Formatted token summary
// @Description  Returns the chat-ready text for a token, disclaimer included
// @Tags         tokens
// @Produce      plain
// @Param        query  path  string  true  "Ticker, name or alias"
// @Success      200  {string}  string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/tokens/{query}/summary [get]
func (h *Handler) GetTokenSummary(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-token-summary")
	defer span.End()

	query := c.Param("query")
	out, err := h.aggregator.Aggregate(ctx, query)
	if err != nil {
		h.writeAggregateError(c, query, err)
		return
	}
	c.String(http.StatusOK, h.formatter.Format(out))
}

func (h *Handler) writeAggregateError(c *gin.Context, query string, err error) {
	var unresolved *domain.UnresolvedSymbolError
	if errors.As(err, &unresolved) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "unresolved symbol: " + unresolved.Input,
			"suggestion": unresolved.Suggestion,
		})
		return
	}
	h.logger.Error("aggregation failed", zap.String("query", query), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
