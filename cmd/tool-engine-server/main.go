package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Kwasi-itc/tools-module/internal/agents"
	"github.com/Kwasi-itc/tools-module/internal/api"
	"github.com/Kwasi-itc/tools-module/internal/engine"
	"github.com/Kwasi-itc/tools-module/internal/engine/executors"
	"github.com/Kwasi-itc/tools-module/internal/ledger"
	"github.com/Kwasi-itc/tools-module/internal/permission"
	"github.com/Kwasi-itc/tools-module/internal/ratelimit"
	"github.com/Kwasi-itc/tools-module/internal/registry"
	"github.com/Kwasi-itc/tools-module/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("ENGINE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("ENGINE_HTTP_PORT", "8080")
	executionTimeoutS := envOrDefaultInt("ENGINE_EXECUTION_TIMEOUT_S", 30)
	cacheTTLS := envOrDefaultInt("ENGINE_CACHE_TTL_S", 60)
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")

	logger.Info("starting tool engine server",
		zap.String("http_port", httpPort),
		zap.Int("execution_timeout_s", executionTimeoutS),
		zap.Int("cache_ttl_s", cacheTTLS),
	)

	// Postgres pool (required)
	if postgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	logger.Info("postgres connected")

	// Event stream — ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	cacheTTL := time.Duration(cacheTTLS) * time.Second

	// Stores
	toolRegistry := registry.NewPostgresToolRegistry(registry.PostgresToolRegistryConfig{
		DB:       db,
		CacheTTL: cacheTTL,
		Logger:   logger,
	})
	permStore := permission.NewPostgresStore(db)
	ruleStore := ratelimit.NewPostgresRuleStore(db)
	execLedger := ledger.NewPostgresLedger(db)
	agentStore := agents.NewStore(db)

	// Engine
	eng := engine.New(engine.Config{
		Registry: toolRegistry,
		Perms:    permission.NewEvaluator(permStore),
		Limiter:  ratelimit.NewLimiter(ruleStore, execLedger),
		Ledger:   execLedger,
		Executors: engine.NewExecutorSet(
			executors.NewHTTPExecutor(),
			executors.NewDatabaseExecutor(),
		),
		Events:  writer,
		Timeout: time.Duration(executionTimeoutS) * time.Second,
		Logger:  logger,
	})

	// HTTP API server
	deps := &api.Dependencies{
		Engine:   eng,
		Registry: toolRegistry,
		Perms:    permStore,
		PermEval: permission.NewEvaluator(permStore),
		Rules:    ruleStore,
		Ledger:   execLedger,
		Agents:   agentStore,
		Logger:   logger,
		CacheTTL: cacheTTL,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: time.Duration(executionTimeoutS)*time.Second + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("tool engine server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
