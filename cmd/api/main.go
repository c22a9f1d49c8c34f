package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pagespace/internal/app"
	"pagespace/internal/blob"
	"pagespace/internal/config"
	"pagespace/internal/email"
	"pagespace/internal/export"
	"pagespace/internal/history"
	"pagespace/internal/mcpbridge"
	"pagespace/internal/ratelimit"
	"pagespace/internal/retry"
	"pagespace/internal/search"
	"pagespace/internal/session"
	"pagespace/internal/siem"
	"pagespace/internal/store"
	"pagespace/internal/vault"
)

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if strings.EqualFold(level, "debug") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		logger.Fatal("failed to create history dir", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{
		Store:   dataStore,
		History: history.New(cfg.HistoryDir),
		Logger:  logger,
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, pgfts, logger)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for refresh sessions and rate limits")
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Limiter = ratelimit.NewRedisLimiter(redisStore.Client(), cfg.RateLimitPerMinute, time.Minute)
	} else {
		logger.Info("using postgres for refresh sessions, in-process rate limits")
		deps.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute, time.Minute)
	}

	// Optional collaborators are only assigned when non-nil so the service
	// sees a nil interface rather than a typed nil.
	var secrets *vault.Vault
	if cfg.SecretKey != "" {
		secrets, err = vault.NewFromHex(cfg.SecretKey)
		if err != nil {
			logger.Fatal("invalid PAGESPACE_SECRET_KEY", zap.Error(err))
		}
		deps.Vault = secrets
	} else {
		logger.Warn("PAGESPACE_SECRET_KEY not set, SIEM destinations cannot store secrets")
	}

	if cfg.S3Endpoint != "" {
		blobs, err := blob.New(ctx, blob.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			logger.Fatal("object storage unavailable", zap.Error(err))
		}
		deps.Blobs = blobs
	}

	deps.Exporter = export.NewService(logger)
	deps.Mailer = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.AppBaseURL,
	})

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.SIEMMaxRetries
	forwarder := siem.NewForwarder(siem.Config{
		BatchSize:     cfg.SIEMBatchSize,
		FlushInterval: cfg.SIEMFlushInterval,
		Policy:        policy,
	}, app.NewDestinationSource(dataStore, deps.Vault, logger), logger)
	forwarder.Start()
	deps.Audit = forwarder

	bridge := mcpbridge.New(mcpbridge.Options{
		CallTimeout:    cfg.MCPCallTimeout,
		OriginPatterns: cfg.MCPOrigins,
	}, logger)
	defer bridge.Close()
	deps.Bridge = bridge

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("pagespace API listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := forwarder.Close(shutdownCtx); err != nil {
		logger.Warn("siem forwarder did not drain", zap.Error(err))
	}
}
