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

	"defi-scout/internal/cache"
	"defi-scout/internal/config"
	"defi-scout/internal/db"
	"defi-scout/internal/logger"
	"defi-scout/internal/mcpserver"
	"defi-scout/internal/service"
	"defi-scout/pkg/tracing"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	newLoggerFunc          = logger.NewLogger
	initTracerFunc         = tracing.InitTracer
	initPostgresFunc       = db.InitPostgres
	initRedisFunc          = cache.InitRedis
	buildStackFunc         = service.Build
	runStdioFunc           = func(s *mcpserver.Server, ctx context.Context) error { return s.RunStdio(ctx) }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
)

// The MCP server exposes the token tools to agent clients. stdout belongs to
// the protocol in stdio mode, so every log line goes to stderr.
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

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		zl.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			zl.Warn("error shutting down tracer provider", zap.Error(err))
		}
	}()

	var deps service.Deps
	if cfg.DatabaseURL != "" {
		pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, zl)
		if err != nil {
			zl.Warn("postgres unavailable, featured analytics fall back to the token table", zap.Error(err))
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

	timeout := time.Duration(cfg.MCPRequestTimeoutSecs) * time.Second
	mcpSrv := mcpserver.New(tracer, zl, stack.Resolver, stack.Aggregator, timeout)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)

	if cfg.MCPTransport == "http" {
		serveHTTP(cfg, mcpSrv, zl, quit)
		return
	}

	go func() {
		waitForSignalFunc(quit)
		cancel()
	}()
	if err := runStdioFunc(mcpSrv, ctx); err != nil && ctx.Err() == nil {
		zl.Error("MCP stdio session ended", zap.Error(err))
	}
	zl.Info("MCP server exiting")
}

func serveHTTP(cfg *config.Config, mcpSrv *mcpserver.Server, zl *zap.Logger, quit <-chan os.Signal) {
	if cfg.MCPAuthToken == "" && cfg.MCPHTTPBind != "127.0.0.1" && cfg.MCPHTTPBind != "localhost" {
		zl.Warn("MCP HTTP endpoint is exposed without MCP_AUTH_TOKEN", zap.String("bind", cfg.MCPHTTPBind))
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpSrv.HTTPHandler(cfg.MCPAuthToken))
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.MCPHTTPBind, cfg.MCPHTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("MCP HTTP server listening", zap.String("addr", srv.Addr))
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			zl.Fatal("listen", zap.Error(err))
		}
	}()

	waitForSignalFunc(quit)
	zl.Info("shutting down MCP server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		zl.Error("MCP server forced to shutdown", zap.Error(err))
	}
}
