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

	"rolechat/internal/core/services"
	httphandlers "rolechat/internal/handlers/http"
	rolebackup "rolechat/internal/infrastructure/backup"
	"rolechat/internal/infrastructure/distributed"
	"rolechat/internal/infrastructure/middleware"
	"rolechat/internal/infrastructure/monitoring"
	"rolechat/internal/infrastructure/realtime"
	"rolechat/internal/infrastructure/reliability"
	repositories "rolechat/internal/infrastructure/repositories"
	"rolechat/pkg/backup"
	"rolechat/pkg/config"
	"rolechat/pkg/logger"
	"rolechat/pkg/tracing"
	"rolechat/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const version = "1.0.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "rolechat",
		Short:         "Serve the rolechat API and realtime gateway",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			serve(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", envOr("ROLECHAT_CONFIG", "configs/config.yaml"), "path to config file (ROLECHAT_CONFIG)")
	return cmd
}

func serve(configPath string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Invalid file; fall back to defaults rather than refusing to start
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("Failed to load config, using defaults", "path", configPath, "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "rolechat",
		ServiceVersion: version,
		JaegerURL:      cfg.Tracing.JaegerEndpoint,
		Environment:    cfg.Tracing.Environment,
		SampleRate:     cfg.Tracing.SamplingRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	instanceID := utils.GenerateInstanceID()
	log = log.With("instance_id", instanceID)

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	authorizer, err := repoFactory.CreateAuthorizer(ctx)
	if err != nil {
		log.Fatalw("failed to create authorizer", "provider", cfg.Authz.Provider, "error", err)
	}
	channelLog := repoFactory.CreateChannelLog()
	presence := repoFactory.CreatePresenceRegistry(instanceID)
	bus := repoFactory.CreateMessageBus(instanceID)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	// Services
	if cfg.Realtime.APIKey == "" {
		log.Warn("realtime.api_key is empty; no realtime credentials will be issued")
	}
	minter := services.NewTokenMinter(cfg.Realtime.APIKey)
	sessions := services.NewSessionService(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
	directory := services.NewDirectoryService(authorizer, log)
	resolver := services.NewResourceResolver(authorizer, cfg.Authz.ResourceCacheTTL)
	defer resolver.Close()
	channelAuth := services.NewChannelAuthService(authorizer, minter, collector, log)
	workflow := services.NewRoleTransitionWorkflow(authorizer, authorizer, resolver, services.RoleTransitionOptions{
		CompensateOnFailure:     cfg.Roles.CompensateOnFailure,
		RequireDemotePermission: cfg.Roles.RequireDemotePermission,
	}, collector, log)

	// Role snapshots
	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			log.Fatalw("failed to open backup storage", "directory", cfg.Backup.Directory, "error", err)
		}
		backupService := backup.NewBackupService(storage, version)
		if cfg.Backup.RestoreOnStart {
			res, err := rolebackup.NewRestoreService(backupService, authorizer, log).RestoreLatest(ctx)
			switch {
			case err != nil:
				log.Errorw("Failed to restore role snapshot", "error", err)
			case res == nil:
				log.Info("No role snapshot to restore")
			}
		}
		scheduler := rolebackup.NewScheduler(backupService, authorizer, rolebackup.Config{
			Tenant:        cfg.Authz.Tenant,
			Schedule:      cfg.Backup.Schedule,
			RetentionDays: cfg.Backup.RetentionDays,
		}, log)
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				log.Errorw("Backup scheduler stopped", "error", err)
			}
		}()
	}

	if len(cfg.Authz.BootstrapModerators) > 0 {
		if err := directory.BootstrapModerators(ctx, cfg.Authz.BootstrapModerators); err != nil {
			log.Errorw("Failed to bootstrap moderators", "error", err)
		}
	}

	// Realtime gateway
	gwOpts := realtime.Options{
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		HistoryLimit:   cfg.Realtime.HistoryLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		gwOpts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		gwOpts.Burst = cfg.RateLimiting.WebSocket.Burst
		gwOpts.MaxMessageSize = cfg.RateLimiting.WebSocket.MaxMessageSizeBytes
	}
	gateway := realtime.NewGateway(minter, channelLog, presence, bus, collector, gwOpts, log)
	go func() {
		if err := gateway.Run(ctx); err != nil {
			log.Errorw("Realtime relay stopped", "error", err)
		}
	}()
	shared, sharedPresence := presence.(*distributed.SharedPresenceRegistry)
	if sharedPresence {
		go shared.StartRefresh(ctx)
	}

	// Health checks
	checker := monitoring.NewHealthChecker()
	checker.AddRoleStoreCheck(authorizer, 30*time.Second, 5*time.Second)
	if guarded, ok := authorizer.(*reliability.RoleStoreWrapper); ok {
		checker.AddBreakerCheck("role_store_breaker", guarded.GetCircuitBreakerStats, 10*time.Second)
	}
	checker.AddChannelLogCheck(channelLog, 30*time.Second, 5*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	checker.StartBackgroundChecks(ctx)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.MetricsMiddleware(collector, logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.SessionMiddleware(sessions, cfg.Auth.CookieName))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
		log.Info("Prometheus metrics enabled")
	}

	httphandlers.NewAuthHandler(sessions, directory, channelAuth, httphandlers.AuthOptions{
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Tracing.Environment == "production",
		DevSignIn:    cfg.Auth.DevSignIn,
	}).SetupRoutes(router)
	httphandlers.NewUserHandler(directory, resolver).SetupRoutes(router)
	httphandlers.NewRoleHandler(workflow, log).SetupRoutes(router)
	httphandlers.NewHealthHandler(checker, gateway, gatherer).SetupRoutes(router)
	router.GET("/realtime", gin.WrapH(gateway))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      otelhttp.NewHandler(router, "rolechat"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting rolechat server",
			"address", cfg.Server.Address,
			"authz_provider", cfg.Authz.Provider,
			"redis", repoFactory.RedisClient() != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down rolechat server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if sharedPresence {
		if err := shared.CleanupInstance(shutdownCtx); err != nil {
			log.Warnw("Failed to clean up presence", "error", err)
		}
	}
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Warnw("Error closing event bus", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Error shutting down tracer", "error", err)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("rolechat server stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
