package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"

	"lodgemail/internal/external"
	"lodgemail/internal/metrics"
	"lodgemail/internal/types"
)

// RetentionStore is the subset of the dispatch repository the retention
// sweep needs.
type RetentionStore interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*types.DispatchRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// RetentionResult summarizes one sweep.
type RetentionResult struct {
	Deleted  int    `json:"deleted"`
	Archived int    `json:"archived"`
	Key      string `json:"archive_key,omitempty"`
}

// RetentionService removes dispatch records older than the retention
// window, regardless of state. created_at is the retention key so a
// record cancelled a minute after creation and one sent a month after
// creation age out on the same schedule.
//
// When an archive uploader is configured the sweep serializes the doomed
// batch to gzip JSONL and uploads it first; an upload failure skips the
// delete entirely so no record is ever lost unarchived.
type RetentionService struct {
	store         RetentionStore
	uploader      external.ArchiveUploader // nil disables archival
	metrics       metrics.DispatchMetrics
	retentionDays int
	batchLimit    int
	logger        *slog.Logger
}

// NewRetentionService creates a RetentionService. uploader may be nil.
func NewRetentionService(
	store RetentionStore,
	uploader external.ArchiveUploader,
	m metrics.DispatchMetrics,
	retentionDays int,
	batchLimit int,
	logger *slog.Logger,
) *RetentionService {
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if batchLimit <= 0 {
		batchLimit = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		store:         store,
		uploader:      uploader,
		metrics:       m,
		retentionDays: retentionDays,
		batchLimit:    batchLimit,
		logger:        logger,
	}
}

// Run executes one sweep against the given reference time. One batch per
// run; anything beyond the batch limit waits for the next day's sweep.
func (s *RetentionService) Run(ctx context.Context, now time.Time) (RetentionResult, error) {
	cutoff := now.AddDate(0, 0, -s.retentionDays)

	if s.uploader == nil {
		deleted, err := s.store.DeleteOlderThan(ctx, cutoff, s.batchLimit)
		if err != nil {
			return RetentionResult{}, err
		}
		s.metrics.RecordRetentionDeleted(ctx, deleted)
		s.logger.InfoContext(ctx, "retention sweep finished",
			"cutoff", cutoff,
			"deleted", deleted,
		)
		return RetentionResult{Deleted: deleted}, nil
	}

	records, err := s.store.ListOlderThan(ctx, cutoff, s.batchLimit)
	if err != nil {
		return RetentionResult{}, err
	}
	if len(records) == 0 {
		return RetentionResult{}, nil
	}

	data, err := serializeRecordsGzipJSONL(records)
	if err != nil {
		return RetentionResult{}, fmt.Errorf("serializing retention archive: %w", err)
	}

	key := fmt.Sprintf("dispatch/%04d/%02d/batch_%d.jsonl.gz",
		cutoff.Year(), cutoff.Month(), now.UnixNano())

	if err := s.uploader.UploadArchive(ctx, key, data); err != nil {
		// Delete is skipped on purpose; the records survive until a
		// later sweep manages to archive them.
		return RetentionResult{}, fmt.Errorf("uploading retention archive %s: %w", key, err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	deleted, err := s.store.DeleteByIDs(ctx, ids)
	if err != nil {
		return RetentionResult{Archived: len(records), Key: key}, err
	}

	s.metrics.RecordRetentionDeleted(ctx, deleted)
	s.logger.InfoContext(ctx, "retention sweep finished",
		"cutoff", cutoff,
		"archived", len(records),
		"deleted", deleted,
		"archive_key", key,
	)
	return RetentionResult{Deleted: deleted, Archived: len(records), Key: key}, nil
}

// serializeRecordsGzipJSONL encodes records as gzip-compressed JSON Lines,
// one record per line.
func serializeRecordsGzipJSONL(records []*types.DispatchRecord) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
