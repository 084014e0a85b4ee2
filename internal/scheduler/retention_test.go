package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodgemail/internal/types"
)

// fakeRetentionStore scripts the retention store operations.
type fakeRetentionStore struct {
	old         []*types.DispatchRecord
	listErr     error
	deleteN     int
	deleteErr   error
	gotCutoff   time.Time
	gotLimit    int
	deletedIDs  []string
	deleteCalls int
}

func (f *fakeRetentionStore) ListOlderThan(_ context.Context, cutoff time.Time, limit int) ([]*types.DispatchRecord, error) {
	f.gotCutoff = cutoff
	f.gotLimit = limit
	return f.old, f.listErr
}

func (f *fakeRetentionStore) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) (int, error) {
	f.deleteCalls++
	f.gotCutoff = cutoff
	f.gotLimit = limit
	return f.deleteN, f.deleteErr
}

func (f *fakeRetentionStore) DeleteByIDs(_ context.Context, ids []string) (int, error) {
	f.deleteCalls++
	f.deletedIDs = ids
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return len(ids), nil
}

// fakeUploader captures archive uploads.
type fakeUploader struct {
	key  string
	data []byte
	err  error
}

func (f *fakeUploader) UploadArchive(_ context.Context, key string, data []byte) error {
	f.key = key
	f.data = data
	return f.err
}

func oldRecord(id string, createdAt time.Time) *types.DispatchRecord {
	return &types.DispatchRecord{
		ID:        id,
		Subject:   "s",
		BodyHTML:  "<p>b</p>",
		State:     types.StateSent,
		Kind:      types.KindReminder,
		CreatedAt: createdAt,
	}
}

func TestRetentionService_Run_CutoffIsNowMinusRetentionDays(t *testing.T) {
	store := &fakeRetentionStore{deleteN: 42}
	svc := NewRetentionService(store, nil, nil, 30, 500, nil)

	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	result, err := svc.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Deleted)
	assert.Equal(t, time.Date(2026, 7, 2, 3, 0, 0, 0, time.UTC), store.gotCutoff)
	assert.Equal(t, 500, store.gotLimit)
}

func TestRetentionService_Run_StateBlind(t *testing.T) {
	// The sweep keys on created_at only; the store contract has no state
	// predicate. Just assert the plain delete path is used when no
	// uploader is configured.
	store := &fakeRetentionStore{deleteN: 3}
	svc := NewRetentionService(store, nil, nil, 30, 500, nil)

	_, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, store.deleteCalls)
	assert.Empty(t, store.deletedIDs)
}

func TestRetentionService_Run_DeleteErrorPropagates(t *testing.T) {
	store := &fakeRetentionStore{
		deleteErr: types.NewAppError(types.ErrCodeInternalDB, "db down", nil),
	}
	svc := NewRetentionService(store, nil, nil, 30, 500, nil)

	_, err := svc.Run(context.Background(), time.Now())
	require.Error(t, err)
}

func TestRetentionService_Run_ArchiveThenDelete(t *testing.T) {
	now := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	created := now.AddDate(0, 0, -60)
	store := &fakeRetentionStore{
		old: []*types.DispatchRecord{
			oldRecord("disp_1", created),
			oldRecord("disp_2", created),
		},
	}
	uploader := &fakeUploader{}
	svc := NewRetentionService(store, uploader, nil, 30, 500, nil)

	result, err := svc.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Archived)
	assert.Equal(t, 2, result.Deleted)
	assert.Equal(t, []string{"disp_1", "disp_2"}, store.deletedIDs,
		"only the archived rows are deleted")
	assert.Contains(t, uploader.key, "dispatch/2026/07/")
	assert.Contains(t, uploader.key, ".jsonl.gz")

	// The archive must round-trip: gzip JSONL, one record per line.
	zr, err := gzip.NewReader(bytes.NewReader(uploader.data))
	require.NoError(t, err)
	scanner := bufio.NewScanner(zr)
	var ids []string
	for scanner.Scan() {
		var rec types.DispatchRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"disp_1", "disp_2"}, ids)
}

func TestRetentionService_Run_UploadFailureSkipsDelete(t *testing.T) {
	store := &fakeRetentionStore{
		old: []*types.DispatchRecord{oldRecord("disp_1", time.Now().AddDate(0, 0, -60))},
	}
	uploader := &fakeUploader{err: errors.New("bucket unavailable")}
	svc := NewRetentionService(store, uploader, nil, 30, 500, nil)

	_, err := svc.Run(context.Background(), time.Now())
	require.Error(t, err)
	assert.Zero(t, store.deleteCalls, "no record may be deleted when the archive upload fails")
}

func TestRetentionService_Run_NothingToArchive(t *testing.T) {
	store := &fakeRetentionStore{}
	uploader := &fakeUploader{}
	svc := NewRetentionService(store, uploader, nil, 30, 500, nil)

	result, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, result.Archived)
	assert.Empty(t, uploader.key, "no upload for an empty batch")
	assert.Zero(t, store.deleteCalls)
}

func TestMaintenancePayload_At(t *testing.T) {
	fallback := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, fallback, MaintenancePayload{}.At(fallback))

	ref := time.Date(2026, 7, 15, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, ref, MaintenancePayload{ReferenceTime: &ref}.At(fallback))
}
