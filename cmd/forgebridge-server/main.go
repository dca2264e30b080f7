package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forgebridge/forgebridge/internal/auth"
	"github.com/forgebridge/forgebridge/internal/dispatch"
	"github.com/forgebridge/forgebridge/internal/github"
	"github.com/forgebridge/forgebridge/internal/registry"
	"github.com/forgebridge/forgebridge/internal/session"
	"github.com/forgebridge/forgebridge/internal/storage"
	"github.com/forgebridge/forgebridge/internal/transport"
)

const serverVersion = "0.3.0"

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("FORGEBRIDGE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("FORGEBRIDGE_PORT", "8080")
	githubToken := os.Getenv("GITHUB_TOKEN")
	githubBaseURL := os.Getenv("GITHUB_API_URL")
	httpTimeoutS := envOrDefaultInt("FORGEBRIDGE_HTTP_TIMEOUT_S", 30)
	maxRetries := envOrDefaultInt("FORGEBRIDGE_MAX_RETRIES", 3)
	authCacheTTL := envOrDefaultInt("FORGEBRIDGE_AUTH_CACHE_TTL_S", 30)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")

	// A missing upstream token fails startup, not the first tool call.
	if githubToken == "" {
		logger.Fatal("GITHUB_TOKEN is required")
	}

	logger.Info("starting forgebridge server",
		zap.String("port", port),
		zap.Int("http_timeout_s", httpTimeoutS),
		zap.Int("max_retries", maxRetries),
	)

	ctx := context.Background()

	// GitHub client
	gh, err := github.NewClient(ctx, github.Config{
		BaseURL:    githubBaseURL,
		Source:     github.NewStaticSource(githubToken),
		Timeout:    time.Duration(httpTimeoutS) * time.Second,
		MaxRetries: maxRetries,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("github client init failed", zap.Error(err))
	}

	// Tool registry: builtin catalog, plus Postgres definitions when a DSN
	// is configured. DB definitions win name collisions at startup.
	reg, db := buildRegistry(ctx, postgresDSN, logger)
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	// Dispatcher
	disp, err := dispatch.New(reg, gh, logger)
	if err != nil {
		logger.Fatal("dispatcher init failed", zap.Error(err))
	}

	// Storage: ClickHouse or LogWriter fallback
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

	// Auth: Postgres if DSN provided, otherwise static (development)
	var authenticator auth.Authenticator
	if db != nil {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres authenticator connected")
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("using static authenticator (no POSTGRES_DSN)")
	}

	// Session manager
	manager := session.NewManager(session.ManagerConfig{
		Registry:      reg,
		Dispatcher:    disp,
		Events:        writer,
		Logger:        logger,
		ServerName:    "forgebridge",
		ServerVersion: serverVersion,
	})

	// HTTP transport
	srv := transport.New(transport.Config{
		Manager: manager,
		Auth:    authenticator,
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("forgebridge server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

// buildRegistry assembles the tool catalog. The builtin tools are always
// registered; Postgres definitions replace same-named builtins.
func buildRegistry(ctx context.Context, postgresDSN string, logger *zap.Logger) (*registry.Registry, *sql.DB) {
	if postgresDSN == "" {
		reg := registry.New()
		for _, def := range registry.BuiltinDefinitions() {
			if err := reg.Register(def); err != nil {
				logger.Fatal("builtin tool registration failed",
					zap.String("tool", def.Name),
					zap.Error(err),
				)
			}
		}
		logger.Info("no POSTGRES_DSN set, using builtin tool catalog")
		return reg, nil
	}

	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}

	dbReg, err := registry.LoadFromPostgres(ctx, db, logger)
	if err != nil {
		logger.Fatal("tool registry load failed", zap.Error(err))
	}

	// Fill gaps with builtins the DB does not override.
	for _, def := range registry.BuiltinDefinitions() {
		if _, err := dbReg.Lookup(def.Name); err == nil {
			continue
		}
		if err := dbReg.Register(def); err != nil {
			logger.Fatal("builtin tool registration failed",
				zap.String("tool", def.Name),
				zap.Error(err),
			)
		}
	}
	return dbReg, db
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
