/*
Package main is the entry point for the roomcast server.

It loads configuration, initializes the global logger, wires the chat core to its
optional Postgres, Redis and S3 backends, serves HTTP and WebSocket traffic, and shuts
everything down gracefully on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"roomcast/internal/app/cache"
	"roomcast/internal/app/chat"
	"roomcast/internal/app/db"
	"roomcast/internal/app/storage"
	"roomcast/internal/configs"
	"roomcast/internal/handler"
	"roomcast/internal/pkg/auth/jwt"
	"roomcast/internal/pkg/logx"
	"roomcast/internal/pkg/pow"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("allow_guests", cfg.AllowGuests).
		Int("pow_difficulty", cfg.PowDifficulty).
		Bool("postgres", cfg.DatabaseDSN != "").
		Bool("redis", cfg.RedisAddr != "").
		Bool("s3", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logx.Fatal(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}

func run(ctx context.Context, cfg *configs.AppConfig) error {
	checks := make(map[string]handler.HealthCheck)

	var store chat.Store
	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		pg := db.NewPostgresStore(pool)
		checks["postgres"] = pg.Ping
		store = pg
	} else {
		logx.Warn("DATABASE_URL not set, using in-memory store")
		store = db.NewMemoryStore(db.DefaultMemoryRetention)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logx.Error(err, "Failed to close redis client")
			}
		}()

		recent := cache.NewRecentMessages(store, client, cfg.HistoryLimit, cache.DefaultTTL)
		checks["redis"] = recent.Ping
		store = recent
	}

	var files storage.StorageService
	var attachments chat.AttachmentResolver
	if cfg.StorageEnabled() {
		svc, err := storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		files, attachments = svc, svc
	}

	manager := chat.NewManager(chat.GatewayOptions{
		Auth:          jwt.NewAuthenticator(cfg.JWTSecret, cfg.AllowGuests),
		Store:         store,
		Attachments:   attachments,
		TypingTimeout: cfg.TypingTimeout,
		HistoryLimit:  cfg.HistoryLimit,
	})
	if err := manager.Start(ctx); err != nil {
		return err
	}

	deps := &handler.AppDeps{
		Manager:      manager,
		Config:       cfg,
		Storage:      files,
		Pow:          pow.NewManager(ctx, cfg.PowDifficulty),
		HealthChecks: checks,
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           handler.Router(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("roomcast server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
