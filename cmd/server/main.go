package main

import (
	// Standard library
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	// Internal packages
	"github.com/omniqr/scansuite/cmd/server/internal/analytics"
	"github.com/omniqr/scansuite/cmd/server/internal/api"
	"github.com/omniqr/scansuite/cmd/server/internal/audit"
	"github.com/omniqr/scansuite/cmd/server/internal/auth"
	"github.com/omniqr/scansuite/cmd/server/internal/config"
	"github.com/omniqr/scansuite/cmd/server/internal/files"
	"github.com/omniqr/scansuite/cmd/server/internal/jobs"
	"github.com/omniqr/scansuite/cmd/server/internal/meetings"
	"github.com/omniqr/scansuite/cmd/server/internal/organizations"
	"github.com/omniqr/scansuite/cmd/server/internal/public"
	"github.com/omniqr/scansuite/cmd/server/internal/realtime"
	"github.com/omniqr/scansuite/cmd/server/internal/storage"
	"github.com/omniqr/scansuite/cmd/server/internal/store"
	"github.com/omniqr/scansuite/cmd/server/internal/tokens"
	"github.com/omniqr/scansuite/pkg/logger"
)

func main() {
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: os.Getenv("ENV"),
		Format:      os.Getenv("LOG_FORMAT"),
		File:        os.Getenv("LOG_FILE"),
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "production"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "web-server")

	if err := run(logInstance, appLogger); err != nil {
		appLogger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// run 装配并运行服务，直到收到退出信号；返回前释放全部资源
func run(logInstance, appLogger *slog.Logger) error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)
	appLogger.Debug(cfg.PrintConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database
	db, err := store.Open(cfg.Database, logInstance.With("component", "database"))
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	var redisClient *redis.Client
	defer func() { closeResources(appLogger, db, redisClient) }()

	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("database migration: %w", err)
	}
	appLogger.Info("database ready", "driver", cfg.Database.Driver)

	// Object storage
	objects, err := openObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("object storage init: %w", err)
	}
	appLogger.Info("object storage ready", "driver", cfg.Storage.Driver, "bucket", cfg.Storage.Bucket)

	// Audit recorder with optional JSONL mirror
	var mirror io.Writer
	if cfg.Audit.File != "" {
		sink := audit.NewJSONLSink(cfg.Audit.File)
		defer sink.Close()
		mirror = sink
	}
	recorder := audit.NewDBRecorder(db, logInstance, mirror)

	// Realtime hub, fanned out through Redis when configured
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hubOpts := []realtime.HubOption{
		realtime.WithOriginPatterns(originHosts(cfg.Server.CORSAllowedOrigins)),
		realtime.WithMaxConnections(cfg.Realtime.MaxConnections),
	}
	if cfg.Realtime.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient, err = realtime.OpenRedis(pingCtx, cfg.Realtime.RedisURL)
		cancel()
		if err != nil {
			appLogger.Warn("redis unavailable, realtime events stay local", "error", err)
		} else {
			hubOpts = append(hubOpts, realtime.WithRelay(realtime.NewRedisRelay(redisClient, logInstance)))
			appLogger.Info("realtime relay ready", "channel", realtime.DefaultRelayChannel)
		}
	}
	hub := realtime.NewHub(logInstance, hubOpts...)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("realtime relay stopped", "error", err)
		}
	}()

	// Services
	issuer := tokens.NewIssuer(tokens.Config{
		AccessSecret:  cfg.Security.AccessSecret,
		RefreshSecret: cfg.Security.RefreshSecret,
		PublicSecret:  cfg.Security.PublicSecret,
		AccessTTL:     cfg.Security.AccessTTL,
		RefreshTTL:    cfg.Security.RefreshTTL,
		PublicTTL:     cfg.Security.PublicTTL,
	})
	ledger := files.NewLedger(db, objects, recorder, hub, logInstance, files.Config{
		MaxFileSize:    cfg.MaxFileSizeBytes(),
		UploadURLTTL:   cfg.Storage.UploadURLTTL,
		DownloadURLTTL: cfg.Storage.DownloadURLTTL,
	})

	// Maintenance jobs
	scheduler := jobs.NewScheduler(jobs.MaintenanceTasks(db, cfg.Maintenance.PendingUploadTTL, nil), logInstance)
	if err := scheduler.Register(cfg.Maintenance.Interval); err != nil {
		return fmt.Errorf("maintenance scheduler init: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	appLogger.Info("maintenance scheduler started", "interval", cfg.Maintenance.Interval.String())

	r := api.NewRouter(api.Deps{
		DB:            db,
		Objects:       objects,
		Issuer:        issuer,
		Auth:          auth.NewService(db, issuer, recorder, logInstance, cfg.Security.BcryptCost),
		Meetings:      meetings.NewService(db, recorder, hub, logInstance, cfg.Security.BcryptCost),
		Files:         ledger,
		Public:        public.NewService(db, issuer, ledger, recorder, hub, logInstance),
		Organizations: organizations.NewService(db, recorder, recorder, logInstance),
		Analytics:     analytics.NewService(db),
		Hub:           hub,
		Log:           logInstance,
		Cookies: api.CookieConfig{
			Secure:     cfg.Security.CookieSecure,
			Domain:     cfg.Security.CookieDomain,
			AccessTTL:  cfg.Security.AccessTTL,
			RefreshTTL: cfg.Security.RefreshTTL,
			PublicTTL:  cfg.Security.PublicTTL,
		},
		AllowedOrigins:  cfg.Server.CORSAllowedOrigins,
		AuthPerMinute:   cfg.RateLimit.AuthPerMinute,
		PublicPerMinute: cfg.RateLimit.PublicPerMinute,
		StartTime:       time.Now(),
	})

	// Create HTTP server with graceful shutdown
	serverAddr := cfg.GetServerAddr()
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("server starting", "addr", serverAddr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}
	appLogger.Info("shutdown signal received, shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
	}
	appLogger.Info("server shutdown complete")
	return nil
}


// openObjectStore 按 STORAGE_DRIVER 创建对象存储
func openObjectStore(cfg *config.Config) (storage.ObjectStore, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStore(cfg.Storage.Bucket), nil
	default:
		return storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
	}
}

// originHosts 将 CORS 源转换为 WebSocket 的 host 匹配模式
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

func closeResources(log *slog.Logger, db *gorm.DB, redisClient *redis.Client) {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warn("redis close failed", "error", err)
		}
	}
	if err := store.Close(db); err != nil {
		log.Warn("database close failed", "error", err)
	}
}
