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

	"go.uber.org/zap"

	"satisledger/backend/internal/cache"
	"satisledger/backend/internal/config"
	"satisledger/backend/internal/httpapi"
	"satisledger/backend/internal/logger"
	"satisledger/backend/internal/service"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/store/memory"
	pgstore "satisledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := runMigrations(cfg.DatabaseURL, log); err != nil {
				log.Fatal("auto-migrate failed", zap.Error(err))
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(log)
		log.Info("repository: in-memory")
	}

	settingsCache := cache.SettingsCache(cache.NoopSettingsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSettingsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			settingsCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		log.Info("cache: noop")
	}

	svc := service.New(repo, settingsCache, time.Duration(cfg.SettingsCacheTTLSeconds)*time.Second, log)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, log)
	if err := auth.EnsureAdmin(ctx, "admin", cfg.SeedAdminPassword); err != nil {
		log.Warn("no admin account available", zap.Error(err))
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:          cfg.AllowedOrigin,
		LoginAttemptsPerMinute: cfg.LoginAttemptsPerMinute,
	}, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("sales ledger backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warn("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func runMigrations(databaseURL string, log *zap.Logger) error {
	m, err := pgstore.NewMigrator(databaseURL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()
	return m.Up()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SeedAdminPassword != "" && len(cfg.SeedAdminPassword) < 8 {
		return fmt.Errorf("SEED_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
