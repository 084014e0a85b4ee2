// Package scheduler implements the cron-driven background jobs of the
// dispatch subsystem: the per-minute dispatch tick and the daily retention
// sweep. Both are invoked once per scheduled trigger and are safe to
// re-run; neither keeps in-process state between invocations.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lodgemail/internal/dispatch"
	"lodgemail/internal/metrics"
	"lodgemail/internal/types"
)

// maxConcurrentRecords bounds how many due records one tick processes in
// parallel.
const maxConcurrentRecords = 10

// TickStore is the subset of the dispatch repository the tick needs.
type TickStore interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]*types.DispatchRecord, error)
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, errorDetail string, at time.Time) (bool, error)
}

// RecipientResolver resolves the recipient list for a record at send time.
type RecipientResolver interface {
	Resolve(ctx context.Context, rec *types.DispatchRecord) []string
}

// Deliverer performs the per-recipient delivery fan-out for one record.
type Deliverer interface {
	Deliver(ctx context.Context, rec *types.DispatchRecord, recipients []string) dispatch.DeliveryResult
}

// TickResult summarizes one tick.
type TickResult struct {
	Due    int `json:"due"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// TickService runs one dispatch tick: find due records, deliver each, and
// record the terminal outcome.
//
// Concurrency model: the `state='scheduled'` predicate in FindDue is the
// only guard against double-processing. With a single tick instance
// running at a time this is safe; two instances racing the same minute
// can both pick up a record and double-send. The tick-level job lock in
// cmd/dispatcher narrows that window but does not close it, because the
// lock covers the tick, not individual records.
type TickService struct {
	store      TickStore
	resolver   RecipientResolver
	deliverer  Deliverer
	metrics    metrics.DispatchMetrics
	batchLimit int
	logger     *slog.Logger
}

// NewTickService creates a TickService. batchLimit caps how many due
// records one tick picks up; the remainder waits for the next tick.
func NewTickService(
	store TickStore,
	resolver RecipientResolver,
	deliverer Deliverer,
	m metrics.DispatchMetrics,
	batchLimit int,
	logger *slog.Logger,
) *TickService {
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if batchLimit <= 0 {
		batchLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TickService{
		store:      store,
		resolver:   resolver,
		deliverer:  deliverer,
		metrics:    m,
		batchLimit: batchLimit,
		logger:     logger,
	}
}

// Run executes one tick against the given reference time. A failure in
// the due query ends the tick with an error; the next tick retries.
// Per-record failures never abort the batch: each record settles into
// sent or failed independently, and Run returns only after every record
// has settled.
func (s *TickService) Run(ctx context.Context, now time.Time) (TickResult, error) {
	records, err := s.store.FindDue(ctx, now, s.batchLimit)
	if err != nil {
		return TickResult{}, err
	}

	result := TickResult{Due: len(records)}
	s.metrics.RecordBatchSize(ctx, len(records))

	if len(records) == 0 {
		return result, nil
	}

	s.logger.InfoContext(ctx, "dispatch tick started",
		"due", len(records),
		"reference_time", now,
	)

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRecords)

	for _, rec := range records {
		g.Go(func() error {
			sent := s.processRecord(gctx, rec)

			mu.Lock()
			if sent {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	// Workers report outcomes via the shared counters, never via errors.
	_ = g.Wait()

	s.logger.InfoContext(ctx, "dispatch tick finished",
		"due", result.Due,
		"sent", result.Sent,
		"failed", result.Failed,
	)
	return result, nil
}

// processRecord resolves, delivers, and marks one record. Returns true
// when the record ended in sent.
func (s *TickService) processRecord(ctx context.Context, rec *types.DispatchRecord) bool {
	started := time.Now()
	recipients := s.resolver.Resolve(ctx, rec)
	delivery := s.deliverer.Deliver(ctx, rec, recipients)
	completedAt := time.Now().UTC()

	if delivery.AllDelivered() {
		updated, err := s.store.MarkSent(ctx, rec.ID, completedAt)
		if err != nil {
			// The mail went out but the state write failed; the record
			// stays scheduled and the next tick will send it again.
			s.logger.ErrorContext(ctx, "failed to mark record sent",
				"dispatch_id", rec.ID,
				"error", err,
			)
			return false
		}
		if !updated {
			s.logger.WarnContext(ctx, "record left scheduled state mid-tick, mark skipped",
				"dispatch_id", rec.ID,
			)
		}
		s.metrics.RecordOutcome(ctx, rec.Kind, metrics.ResultSent)
		s.metrics.RecordLatency(ctx, rec.Kind, time.Since(started))
		return true
	}

	detail := delivery.FirstErr.Error()
	updated, err := s.store.MarkFailed(ctx, rec.ID, detail, completedAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark record failed",
			"dispatch_id", rec.ID,
			"error", err,
		)
	} else if !updated {
		s.logger.WarnContext(ctx, "record left scheduled state mid-tick, mark skipped",
			"dispatch_id", rec.ID,
		)
	}
	s.metrics.RecordOutcome(ctx, rec.Kind, metrics.ResultFailed)
	s.logger.ErrorContext(ctx, "dispatch record failed",
		"dispatch_id", rec.ID,
		"delivered", delivery.Delivered,
		"attempted", delivery.Attempted,
		"error_detail", detail,
	)
	return false
}
