// Package main is the entrypoint for the dispatcher Lambda, triggered by
// EventBridge once per minute. Each invocation runs one dispatch tick:
// query due records, deliver each one, and record terminal outcomes.
//
// A job lock keyed to the trigger minute keeps an accidental concurrent
// invocation from running the same tick twice; it does not guard
// individual records, so delivery remains at-least-once.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"lodgemail/internal/config"
	"lodgemail/internal/db"
	"lodgemail/internal/dispatch"
	"lodgemail/internal/external"
	"lodgemail/internal/metrics"
	"lodgemail/internal/scheduler"
	"lodgemail/internal/types"
)

// lockTTL covers one tick with margin; a crashed invocation frees the
// lock for the next minute's trigger.
const lockTTL = 2 * time.Minute

// TickRunner runs one dispatch tick.
type TickRunner interface {
	Run(ctx context.Context, now time.Time) (scheduler.TickResult, error)
}

// JobLocker abstracts distributed lock acquisition and release.
type JobLocker interface {
	Acquire(ctx context.Context, lockName, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockName, owner string) error
}

// JobHistorian records job runs for operational visibility.
type JobHistorian interface {
	Start(ctx context.Context, jobName string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status, detail string, finishedAt time.Time) error
}

// Handler holds the dispatcher Lambda dependencies, initialized once per
// cold start and reused across invocations.
type Handler struct {
	Tick       TickRunner
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle processes one EventBridge trigger.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := payload.At(time.Now().UTC())

	lockName := "dispatch-tick:" + now.Truncate(time.Minute).Format("2006-01-02T15:04")
	acquired, err := h.JobLock.Acquire(ctx, lockName, h.WorkerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockName, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "tick already running elsewhere, skipping",
			"lock_name", lockName,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockName), nil
	}
	defer func() {
		if err := h.JobLock.Release(ctx, lockName, h.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock",
				"lock_name", lockName,
				"error", err,
			)
		}
	}()

	jobID, err := h.JobHistory.Start(ctx, "dispatch-tick", now)
	if err != nil {
		// History is observability, not correctness; the tick still runs.
		logger.ErrorContext(ctx, "failed to record job start", "error", err)
		jobID = 0
	}

	result, runErr := h.Tick.Run(ctx, now)

	status := "success"
	detail := fmt.Sprintf("due=%d sent=%d failed=%d", result.Due, result.Sent, result.Failed)
	if runErr != nil {
		status = "failed"
		detail = runErr.Error()
	}
	if jobID != 0 {
		if err := h.JobHistory.Finish(ctx, jobID, status, detail, time.Now().UTC()); err != nil {
			logger.ErrorContext(ctx, "failed to record job finish",
				"job_id", jobID,
				"error", err,
			)
		}
	}

	if runErr != nil {
		return "", fmt.Errorf("dispatch tick failed: %w", runErr)
	}
	return fmt.Sprintf("tick complete: %s", detail), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("dispatcher initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	provider, dispatchMetrics, err := buildTransports(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build transports", "error", err)
		os.Exit(1)
	}

	dispatchRepo := db.NewDispatchRepository(pool)
	resolver := dispatch.NewResolver(db.NewTenantRepository(pool), cfg.Email.DefaultRecipient, logger)
	dispatcher := dispatch.NewDispatcher(provider, types.EmailAddress{
		Address: cfg.Email.FromAddress,
		Name:    cfg.Email.FromName,
	}, logger)

	tick := scheduler.NewTickService(
		dispatchRepo,
		resolver,
		dispatcher,
		dispatchMetrics,
		cfg.Dispatch.BatchLimit,
		logger,
	)

	handler := &Handler{
		Tick:       tick,
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		WorkerID:   uuid.New().String(),
		Logger:     logger,
	}

	logger.Info("dispatcher initialized", "worker_id", handler.WorkerID)

	if isLambdaEnvironment() {
		lambda.Start(handler.Handle)
		return
	}

	// Local mode: run a single tick and exit.
	out, err := handler.Handle(ctx, scheduler.MaintenancePayload{})
	pool.Close()
	if err != nil {
		logger.Error("tick failed", "error", err)
		os.Exit(1)
	}
	logger.Info(out)
}

// buildTransports creates the email provider and metrics publisher for the
// configured environment.
func buildTransports(ctx context.Context, cfg *config.Config, logger *slog.Logger) (external.EmailProvider, metrics.DispatchMetrics, error) {
	if cfg.Email.Provider == "stub" {
		return external.NewStubEmailProvider(logger), metrics.NoopMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("loading AWS config: %w", err)
	}

	cw := metrics.NewCloudWatchDispatchMetrics(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.AWS.MetricNamespace,
		logger,
	)

	switch cfg.Email.Provider {
	case "ses":
		return external.NewSESClient(awsCfg, external.SESClientConfig{
			ConfigSetName: cfg.Email.SESConfigSet,
			Logger:        logger,
		}), cw, nil

	case "sendgrid":
		httpClient := &http.Client{Timeout: 15 * time.Second}
		return external.NewSendGridClient(httpClient, external.SendGridClientConfig{
			APIKey: cfg.Email.SendGridAPIKey.Unmask(),
			Logger: logger,
		}), cw, nil

	default:
		return nil, nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}
