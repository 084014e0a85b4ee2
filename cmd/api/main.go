// Package main is the entry point for the LodgeMail API server.
//
// It loads configuration, connects the database pool, wires the dispatch
// service onto the core chassis (middleware, routing, health checks), and
// starts listening for requests. In local mode (APP_ENV=local) it runs as
// a standard HTTP server on the configured port; graceful shutdown is
// handled via SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"

	"lodgemail/internal/api/handlers"
	"lodgemail/internal/config"
	"lodgemail/internal/core"
	"lodgemail/internal/db"
	"lodgemail/internal/dispatch"
	"lodgemail/internal/external"
	"lodgemail/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("lodgemail API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	provider, err := buildEmailProvider(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("building email provider: %w", err)
	}

	dispatchRepo := db.NewDispatchRepository(pool)
	tenantRepo := db.NewTenantRepository(pool)
	apiKeyRepo := db.NewAPIKeyRepository(pool)

	resolver := dispatch.NewResolver(tenantRepo, cfg.Email.DefaultRecipient, logger)
	dispatcher := dispatch.NewDispatcher(provider, types.EmailAddress{
		Address: cfg.Email.FromAddress,
		Name:    cfg.Email.FromName,
	}, logger)
	service := dispatch.NewService(dispatchRepo, resolver, dispatcher, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.DB = pool
	srv.Authenticator = core.NewAPIKeyAuthenticator(apiKeyRepo)
	srv.HealthProbes = []core.HealthProbe{
		core.PingProbe{ProbeName: "database", Pinger: pool},
	}

	emailHandler := handlers.NewEmailHandler(service, logger)
	srv.MountRoutes(func(_ *core.Server, r chi.Router) {
		emailHandler.RegisterRoutes(r)
	})

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}

	return runHTTPServer(srv, cfg, logger)
}

// buildEmailProvider selects the outbound transport from configuration.
func buildEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (external.EmailProvider, error) {
	switch cfg.Email.Provider {
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return external.NewSESClient(awsCfg, external.SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigSet,
			Logger:        logger,
		}), nil

	case "sendgrid":
		httpClient := &http.Client{Timeout: 15 * time.Second}
		return external.NewSendGridClient(httpClient, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger,
		}), nil

	case "stub":
		return external.NewStubEmailProvider(logger), nil

	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}

// runLambda serves requests through the API Gateway proxy integration,
// translating proxy events to HTTP requests against the chi router.
func runLambda(srv *core.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda proxy mode")
	lambda.Start(chiadapter.New(srv.Router()).ProxyWithContext)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
