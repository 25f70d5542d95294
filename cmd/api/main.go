package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"closingdocs/api/internal/access"
	"closingdocs/api/internal/app"
	"closingdocs/api/internal/config"
	"closingdocs/api/internal/email"
	"closingdocs/api/internal/export"
	"closingdocs/api/internal/filestore"
	"closingdocs/api/internal/logging"
	"closingdocs/api/internal/search"
	"closingdocs/api/internal/session"
	"closingdocs/api/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", zap.Strings("versions", applied))
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Dependencies{
		Store:  dataStore,
		Logger: logger,
	}

	files, err := filestore.NewMinioStore(filestore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return err
	}
	if err := files.EnsureBucket(ctx); err != nil {
		// Uploads fail until storage is reachable; readiness reports it.
		logger.Warn("object storage unavailable", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
	}
	deps.Files = files

	var limiter access.Limiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		lockout := session.NewLockout(redisStore.Client(), cfg.AccessMaxAttempts, cfg.AccessLockoutSpan)
		limiter = lockout
		deps.Tokens = redisStore
		deps.Lockout = lockout
		logger.Info("redis enabled for token revocation and access lockout")
	} else {
		logger.Warn("REDIS_URL not set: logout cannot revoke tokens and access attempts are not limited")
	}

	gate, err := access.NewGate(dataStore, access.AdminConfig{PIN: cfg.AdminPIN, Hash: cfg.AdminPINHash})
	if err != nil {
		return err
	}
	if limiter != nil {
		gate.WithLimiter(limiter)
	}
	deps.Gate = gate

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), logger)
	defer searchService.Close()
	deps.Search = searchService

	deps.Email = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	deps.Export = export.NewService(dataStore)

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("closing docs API listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}
