package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"defi-scout/internal/cache"
	"defi-scout/internal/config"
	"defi-scout/internal/db"
	"defi-scout/internal/logger"
	"defi-scout/internal/service"
	"defi-scout/internal/tui"
	"defi-scout/pkg/tracing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/bubbletea"
	"github.com/charmbracelet/wish/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"
)

// ctxKey is a typed context key to avoid collisions.
type ctxKey string

const fingerprintKey ctxKey = "ssh_fingerprint"

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	newLoggerFunc     = logger.NewLogger
	initTracerFunc    = tracing.InitTracer
	initPostgresFunc  = db.InitPostgres
	initRedisFunc     = cache.InitRedis
	buildStackFunc    = service.Build
	newWishServerFunc = wish.NewServer
	setupSignalNotify = ossignal.Notify
	waitForSignalFunc = func(quit <-chan os.Signal) { <-quit }
)

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

	var deps service.Deps
	if cfg.DatabaseURL != "" {
		pool, err := initPostgresFunc(ctx, cfg.DatabaseURL, zl)
		if err != nil {
			zl.Warn("postgres unavailable, chat history disabled", zap.Error(err))
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

	// Build Wish SSH server
	addr := fmt.Sprintf("%s:%d", cfg.SSHHost, cfg.SSHPort)

	srv, err := newWishServerFunc(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(cfg.SSHHostKeyPath),
		wish.WithPublicKeyAuth(func(ctx ssh.Context, key ssh.PublicKey) bool {
			fingerprint := gossh.FingerprintSHA256(key)
			ctx.SetValue(fingerprintKey, fingerprint)
			zl.Info("SSH auth accepted", zap.String("user", ctx.User()), zap.String("fingerprint", fingerprint))
			return true
		}),
		wish.WithMiddleware(
			bubbletea.Middleware(func(s ssh.Session) (tea.Model, []tea.ProgramOption) {
				fingerprint, _ := s.Context().Value(fingerprintKey).(string)

				model := tui.NewAppModel(tui.Services{
					Aggregator: stack.Aggregator,
					Advisor:    stack.Advisor,
					SessionID:  sessionID(fingerprint, s.User()),
					Username:   s.User(),
				})
				pty, _, _ := s.Pty()
				model.SetSize(pty.Window.Width, pty.Window.Height)

				return model, []tea.ProgramOption{tea.WithAltScreen()}
			}),
			logging.Middleware(),
		),
	)
	if err != nil {
		zl.Fatal("failed to create SSH server", zap.Error(err))
	}

	if srv != nil {
		go func() {
			zl.Info("SSH server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
				zl.Error("SSH server stopped", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	zl.Info("shutting down SSH server")

	cancel()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			zl.Warn("SSH server shutdown error", zap.Error(err))
		}
	}

	zl.Info("SSH server exited")
}

// sessionID keys the advisor conversation of an SSH user, so reconnecting
// with the same key resumes the same conversation.
func sessionID(fingerprint, user string) int64 {
	h := fnv.New64a()
	if fingerprint != "" {
		_, _ = h.Write([]byte(fingerprint))
	} else {
		_, _ = h.Write([]byte("user:" + user))
	}
	return int64(h.Sum64() >> 1)
}
