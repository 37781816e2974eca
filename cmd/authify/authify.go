package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authify/internal/account"
	"authify/internal/api"
	"authify/internal/config"
	"authify/internal/logger"
	"authify/internal/models"
	"authify/internal/notify"
	"authify/internal/observability"
	"authify/internal/otp"
	"authify/internal/ratelimit"
	"authify/internal/storage"
	"authify/internal/token"
	"authify/internal/version"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Print version information and exit")
	writeConfig = flag.String("write-example-config", "", "Write an example configuration file to the given path and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}
	if *writeConfig != "" {
		if err := config.SaveExample(*writeConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	verInfo := version.GetInfo()
	log, closer, err := logger.Setup(cfg.Logging, verInfo)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, verInfo)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()
	slog.Info("Storage initialized", "type", cfg.Storage.Type)

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	// Outbound mail
	dispatcher, err := initializeDispatcher(cfg)
	if err != nil {
		slog.Error("Failed to initialize notifications", "error", err)
		os.Exit(1)
	}
	defer dispatcher.Close()

	// Services
	tokens, err := token.NewIssuer(cfg.Auth)
	if err != nil {
		slog.Error("Failed to initialize token issuer", "error", err)
		os.Exit(1)
	}
	hasher := account.NewBcryptHasher(cfg.Auth.BcryptCost)
	accounts := account.NewService(activeStorage, hasher, tokens, dispatcher)
	otps := otp.NewManager(activeStorage, dispatcher, hasher, otp.ConfigFromModel(cfg.OTP))

	// Initialize HTTP handlers with storage for health checks
	handlers := api.NewHandlers(accounts, otps,
		api.WithStorage(activeStorage),
		api.WithSessionCookie(cfg.Auth.TokenTTL, cfg.Server.TLSEnabled),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	// Initialize rate limiter if enabled
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRegistry(
			ratelimit.ProfilesFromConfig(cfg.RateLimit),
			ratelimit.WithCleanupInterval(cfg.RateLimit.CleanupInterval),
		)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()

		var mwOpts []ratelimit.MiddlewareOption
		if cfg.Metrics.Enabled {
			throttleMetrics, err := observability.NewThrottleMetrics()
			if err != nil {
				slog.Error("Failed to create rate limit metrics", "error", err)
				os.Exit(1)
			}
			mwOpts = append(mwOpts, ratelimit.WithRecorder(throttleMetrics))
		}

		resolver := ratelimit.IdentityResolver{TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders}
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, resolver, mwOpts...)))
		slog.Info("Rate limiting enabled",
			"trust_proxy_headers", cfg.RateLimit.TrustProxyHeaders,
			"login_capacity", cfg.RateLimit.Login.Capacity,
			"otp_capacity", cfg.RateLimit.OTP.Capacity,
			"general_capacity", cfg.RateLimit.General.Capacity)
	}

	router := api.SetupRoutes(handlers, cfg, tokens, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", verInfo.Version)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		slog.Info("Shutting down server")
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
	}

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown. Deferred closes then drain the mail queue
	// and release storage.
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeDispatcher builds the configured mail transport behind a
// bounded worker queue.
func initializeDispatcher(cfg *models.Config) (*notify.Dispatcher, error) {
	sender, err := notify.NewSender(cfg.Notification)
	if err != nil {
		return nil, err
	}

	var opts []notify.DispatcherOption
	if cfg.Metrics.Enabled {
		metrics, err := observability.NewNotificationMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create notification metrics: %w", err)
		}
		opts = append(opts, notify.WithRecorder(metrics))
	}

	slog.Info("Notifications initialized",
		"sender", cfg.Notification.Sender,
		"workers", cfg.Notification.Workers,
		"queue_size", cfg.Notification.QueueSize)
	return notify.NewDispatcher(notify.ConfigFromModel(cfg.Notification), sender, opts...), nil
}
