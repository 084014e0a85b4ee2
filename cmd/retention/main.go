// Package main is the entrypoint for the retention Lambda, triggered by
// EventBridge once per day. Each invocation runs one retention sweep:
// optionally archive the doomed batch to cold storage, then delete
// dispatch records older than the retention window regardless of state.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"lodgemail/internal/config"
	"lodgemail/internal/db"
	"lodgemail/internal/external"
	"lodgemail/internal/metrics"
	"lodgemail/internal/scheduler"
)

// lockTTL covers one sweep with margin.
const lockTTL = 15 * time.Minute

// SweepRunner runs one retention sweep.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (scheduler.RetentionResult, error)
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

// Handler holds the retention Lambda dependencies, initialized once per
// cold start and reused across invocations.
type Handler struct {
	Sweep      SweepRunner
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

	lockName := "retention-sweep:" + now.Format("2006-01-02")
	acquired, err := h.JobLock.Acquire(ctx, lockName, h.WorkerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockName, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "sweep already running elsewhere, skipping",
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

	jobID, err := h.JobHistory.Start(ctx, "retention-sweep", now)
	if err != nil {
		logger.ErrorContext(ctx, "failed to record job start", "error", err)
		jobID = 0
	}

	result, runErr := h.Sweep.Run(ctx, now)

	status := "success"
	detail := fmt.Sprintf("deleted=%d archived=%d", result.Deleted, result.Archived)
	if result.Key != "" {
		detail += " key=" + result.Key
	}
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

	// A failed sweep does not fail the invocation; the next daily
	// trigger retries the same rows.
	if runErr != nil {
		logger.ErrorContext(ctx, "retention sweep failed", "error", runErr)
		return fmt.Sprintf("sweep failed: %s", runErr), nil
	}
	return fmt.Sprintf("sweep complete: %s", detail), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("retention initializing (cold start)")

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

	var dispatchMetrics metrics.DispatchMetrics = metrics.NoopMetrics{}
	var uploader external.ArchiveUploader

	if cfg.Environment != "local" || cfg.AWS.ArchiveBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.Environment != "local" {
			dispatchMetrics = metrics.NewCloudWatchDispatchMetrics(
				cloudwatch.NewFromConfig(awsCfg),
				cfg.AWS.MetricNamespace,
				logger,
			)
		}
		// An empty bucket disables archival entirely and the sweep
		// deletes directly; local runs point EndpointURL at LocalStack.
		if cfg.AWS.ArchiveBucket != "" {
			uploader = external.NewS3ArchiveUploader(awsCfg, external.S3ArchiveConfig{
				Bucket:      cfg.AWS.ArchiveBucket,
				EndpointURL: cfg.AWS.EndpointURL,
				Logger:      logger,
			})
			logger.Info("retention archival enabled", "bucket", cfg.AWS.ArchiveBucket)
		}
	}

	sweep := scheduler.NewRetentionService(
		db.NewDispatchRepository(pool),
		uploader,
		dispatchMetrics,
		cfg.Retention.Days,
		cfg.Retention.BatchLimit,
		logger,
	)

	handler := &Handler{
		Sweep:      sweep,
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		WorkerID:   uuid.New().String(),
		Logger:     logger,
	}

	logger.Info("retention initialized", "worker_id", handler.WorkerID)

	if isLambdaEnvironment() {
		lambda.Start(handler.Handle)
		return
	}

	// Local mode: run a single sweep and exit.
	out, err := handler.Handle(ctx, scheduler.MaintenancePayload{})
	pool.Close()
	if err != nil {
		logger.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	logger.Info(out)
}

// isLambdaEnvironment reports whether the process runs inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, ok := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return ok
}
