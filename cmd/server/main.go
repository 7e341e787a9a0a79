package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"defi-scout/internal/bot"
	"defi-scout/internal/cache"
	"defi-scout/internal/config"
	"defi-scout/internal/db"
	"defi-scout/internal/handler"
	"defi-scout/internal/job"
	"defi-scout/internal/logger"
	"defi-scout/internal/mcpserver"
	"defi-scout/internal/observability"
	"defi-scout/internal/service"
	"defi-scout/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "defi-scout/docs"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	newLoggerFunc          = logger.NewLogger
	initTracerFunc         = tracing.InitTracer
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	buildStackFunc         = service.Build
	startRefresherFunc     = func(r *job.ProfileRefresher, ctx context.Context) { go r.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           DeFi Scout API
// @version         1.0
// @description     Token research API: resolves symbols, aggregates market, protocol, social and on-chain data, and answers chat questions.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()

	zl, err := newLoggerFunc(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		zl.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			zl.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := service.Deps{Metrics: observability.NewMetrics("", reg)}

	// Optional Postgres and Redis
	if cfg.DatabaseURL != "" {
		pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, zl)
		if err != nil {
			zl.Warn("postgres unavailable, persistence disabled", zap.Error(err))
		} else {
			defer pool.Close()
			deps.Pool = pool
		}
	}
	if cfg.RedisURL != "" {
		rdb, err := initRedisFunc(ctx, cfg.RedisURL, zl)
		if err != nil {
			zl.Warn("redis unavailable, shared cache disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			deps.Redis = rdb
		}
	}

	stack, err := buildStackFunc(cfg, tracer, zl, deps)
	if err != nil {
		zl.Fatal("failed to build token pipeline", zap.Error(err))
	}
	stack.StartBackground(ctx, cfg)

	// Watchlist warmer (stopped by ctx cancel)
	refresher := job.NewProfileRefresher(tracer, zl, stack.Aggregator, cfg.Watchlist, cfg.RefreshIntervalSecs)
	startRefresherFunc(refresher, ctx)

	cmds := bot.NewCommands(stack.Aggregator, stack.Advisor, stack.Metrics, zl)
	if err := startTelegramBotFunc(ctx, cfg.TelegramBotToken, cmds, zl); err != nil {
		zl.Error("failed to start Telegram bot", zap.Error(err))
	}

	// Create handlers and routes
	h := handler.New(tracer, zl, stack.Resolver, stack.Aggregator)
	h.SetAdvisor(stack.Advisor)
	h.SetMetrics(stack.Metrics)
	if stack.Profiles != nil {
		h.SetProfiles(stack.Profiles)
	}

	r := newRouterFunc()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("defi-scout"))

	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if cfg.MCPHTTPEnabled {
		mcpSrv := mcpserver.New(tracer, zl, stack.Resolver, stack.Aggregator, time.Duration(cfg.MCPRequestTimeoutSecs)*time.Second)
		r.Any("/mcp", gin.WrapH(mcpSrv.HTTPHandler(cfg.MCPAuthToken)))
		zl.Info("MCP endpoint mounted", zap.String("path", "/mcp"))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			zl.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	zl.Info("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	zl.Info("server exiting")
}
