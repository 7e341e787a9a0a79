package handler

import (
	"context"

	"defi-scout/internal/domain"
	"defi-scout/internal/format"
	"defi-scout/internal/observability"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type SymbolResolver interface {
	Resolve(input string) (string, bool)
	SuggestionMessage(input string) string
}

type TokenAggregator interface {
	Aggregate(ctx context.Context, input string) (domain.Outcome, error)
}

type ChatAdvisor interface {
	Ask(ctx context.Context, chatID int64, message string) (string, error)
}

// ProfileLister reads back persisted profiles.
type ProfileLister interface {
	ListProfiles(ctx context.Context, limit int) ([]*domain.AggregatedTokenProfile, error)
	GetProfile(ctx context.Context, symbol string) (*domain.AggregatedTokenProfile, error)
}

type Handler struct {
	tracer     trace.Tracer
	logger     *zap.Logger
	resolver   SymbolResolver
	aggregator TokenAggregator
	formatter  *format.Formatter
	advisor    ChatAdvisor
	profiles   ProfileLister
	metrics    *observability.Metrics
}

func New(tracer trace.Tracer, logger *zap.Logger, resolver SymbolResolver, aggregator TokenAggregator) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		tracer:     tracer,
		logger:     logger,
		resolver:   resolver,
		aggregator: aggregator,
		formatter:  format.New(),
	}
}

// SetAdvisor enables POST /api/chat.
func (h *Handler) SetAdvisor(a ChatAdvisor) { h.advisor = a }

// SetProfiles enables the persisted profile routes.
func (h *Handler) SetProfiles(p ProfileLister) { h.profiles = p }

func (h *Handler) SetMetrics(m *observability.Metrics) { h.metrics = m }

// RegisterRoutes mounts every route. apiKey guards /api when non-empty.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.Use(RequestLogger(h.logger))
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/resolve", h.Resolve)
	api.GET("/tokens/:query", h.GetToken)
	api.GET("/tokens/:query/summary", h.GetTokenSummary)
	api.POST("/chat", h.Chat)
	api.GET("/profiles", h.ListProfiles)
	api.GET("/profiles/:symbol", h.GetProfile)
}
