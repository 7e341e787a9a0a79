package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"defi-scout/internal/config"
	"defi-scout/internal/mcpserver"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestMainStdio(t *testing.T) {
	var ran bool
	restore := stubMCPDeps(&config.Config{MCPTransport: "stdio", MCPRequestTimeoutSecs: 5})
	defer restore()
	runStdioFunc = func(s *mcpserver.Server, ctx context.Context) error {
		ran = true
		<-ctx.Done()
		return ctx.Err()
	}

	runMain(t)

	if !ran {
		t.Fatal("expected stdio transport to run")
	}
}

func TestMainHTTP(t *testing.T) {
	var srv *http.Server
	restore := stubMCPDeps(&config.Config{
		MCPTransport:          "http",
		MCPHTTPBind:           "127.0.0.1",
		MCPHTTPPort:           8090,
		MCPAuthToken:          "secret",
		MCPRequestTimeoutSecs: 5,
	})
	defer restore()
	runStdioFunc = func(*mcpserver.Server, context.Context) error {
		t.Error("stdio must not run in http mode")
		return nil
	}
	shutdownHTTPServerFunc = func(s *http.Server, ctx context.Context) error {
		srv = s
		return nil
	}

	runMain(t)

	if srv == nil || srv.Addr != "127.0.0.1:8090" {
		t.Fatalf("unexpected server: %+v", srv)
	}
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected bearer token check, got %d", w.Code)
	}
}

func runMain(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func stubMCPDeps(cfg *config.Config) func() {
	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origNewLogger := newLoggerFunc
	origInitTracer := initTracerFunc
	origRunStdio := runStdioFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config { return cfg }
	newLoggerFunc = func(string) (*zap.Logger, error) { return zap.NewNop(), nil }
	initTracerFunc = func(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		newLoggerFunc = origNewLogger
		initTracerFunc = origInitTracer
		runStdioFunc = origRunStdio
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
	}
}
