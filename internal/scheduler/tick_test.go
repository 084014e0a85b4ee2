package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodgemail/internal/dispatch"
	"lodgemail/internal/types"
)

// fakeTickStore scripts FindDue and records mark calls.
type fakeTickStore struct {
	mu          sync.Mutex
	due         []*types.DispatchRecord
	findErr     error
	gotNow      time.Time
	gotLimit    int
	sentIDs     []string
	failedIDs   []string
	failDetails map[string]string
	markSentErr map[string]error
	markStale   map[string]bool // true: mark affects 0 rows
}

func (f *fakeTickStore) FindDue(_ context.Context, now time.Time, limit int) ([]*types.DispatchRecord, error) {
	f.gotNow = now
	f.gotLimit = limit
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.due, nil
}

func (f *fakeTickStore) MarkSent(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markSentErr[id]; err != nil {
		return false, err
	}
	if f.markStale[id] {
		return false, nil
	}
	f.sentIDs = append(f.sentIDs, id)
	return true, nil
}

func (f *fakeTickStore) MarkFailed(_ context.Context, id string, detail string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDetails == nil {
		f.failDetails = make(map[string]string)
	}
	f.failedIDs = append(f.failedIDs, id)
	f.failDetails[id] = detail
	return true, nil
}

// fakeResolver returns one fixed recipient per record.
type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, rec *types.DispatchRecord) []string {
	if len(rec.Recipients) > 0 {
		return rec.Recipients
	}
	return []string{"default@system"}
}

// fakeDeliverer fails delivery for record IDs listed in failWith.
type fakeDeliverer struct {
	mu        sync.Mutex
	failWith  map[string]error
	delivered []string
}

func (f *fakeDeliverer) Deliver(_ context.Context, rec *types.DispatchRecord, recipients []string) dispatch.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[rec.ID]; ok {
		return dispatch.DeliveryResult{Attempted: len(recipients), FirstErr: err}
	}
	f.delivered = append(f.delivered, rec.ID)
	return dispatch.DeliveryResult{Attempted: len(recipients), Delivered: len(recipients)}
}

func dueRecord(id string) *types.DispatchRecord {
	return &types.DispatchRecord{
		ID:          id,
		Recipients:  []string{"owner@example.com"},
		Subject:     "s",
		BodyHTML:    "<p>b</p>",
		State:       types.StateScheduled,
		Kind:        types.KindReminder,
		ScheduledAt: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestTickService_Run_EmptyBatchIsQuietNoop(t *testing.T) {
	store := &fakeTickStore{}
	svc := NewTickService(store, fakeResolver{}, &fakeDeliverer{}, nil, 50, nil)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	result, err := svc.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, result.Due)
	assert.Equal(t, now, store.gotNow)
	assert.Equal(t, 50, store.gotLimit)
}

func TestTickService_Run_QueryFailureEndsTick(t *testing.T) {
	store := &fakeTickStore{
		findErr: types.NewAppError(types.ErrCodeInternalDB, "db down", nil),
	}
	svc := NewTickService(store, fakeResolver{}, &fakeDeliverer{}, nil, 50, nil)

	_, err := svc.Run(context.Background(), time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestTickService_Run_AllRecordsSettle(t *testing.T) {
	// End-to-end tick: three due records, one fails delivery, the other
	// two are sent. The failing record never blocks the others.
	deliveryErr := types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider down", nil)
	store := &fakeTickStore{
		due: []*types.DispatchRecord{dueRecord("disp_a"), dueRecord("disp_b"), dueRecord("disp_c")},
	}
	deliverer := &fakeDeliverer{failWith: map[string]error{"disp_b": deliveryErr}}
	svc := NewTickService(store, fakeResolver{}, deliverer, nil, 50, nil)

	result, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Due)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 1, result.Failed)

	assert.ElementsMatch(t, []string{"disp_a", "disp_c"}, store.sentIDs)
	assert.Equal(t, []string{"disp_b"}, store.failedIDs)
	assert.Equal(t, deliveryErr.Error(), store.failDetails["disp_b"],
		"first delivery error is captured as the record's error detail")
}

func TestTickService_Run_MarkSentFailureLeavesRecordScheduled(t *testing.T) {
	// Delivery succeeded but the state write failed: the record stays
	// scheduled and will be re-sent next tick. At-least-once semantics.
	store := &fakeTickStore{
		due:         []*types.DispatchRecord{dueRecord("disp_a")},
		markSentErr: map[string]error{"disp_a": types.NewAppError(types.ErrCodeInternalDB, "write failed", nil)},
	}
	deliverer := &fakeDeliverer{}
	svc := NewTickService(store, fakeResolver{}, deliverer, nil, 50, nil)

	result, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err, "per-record failures never abort the tick")
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, store.sentIDs)
	assert.Empty(t, store.failedIDs, "a mark-sent failure must not mark the record failed")
	assert.Equal(t, []string{"disp_a"}, deliverer.delivered)
}

func TestTickService_Run_StaleMarkIsBenign(t *testing.T) {
	// Another actor moved the record out of scheduled between FindDue and
	// MarkSent. Zero rows affected is logged and treated as settled.
	store := &fakeTickStore{
		due:       []*types.DispatchRecord{dueRecord("disp_a")},
		markStale: map[string]bool{"disp_a": true},
	}
	svc := NewTickService(store, fakeResolver{}, &fakeDeliverer{}, nil, 50, nil)

	result, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
}

func TestTickService_Run_BatchLimitPassedThrough(t *testing.T) {
	store := &fakeTickStore{}
	svc := NewTickService(store, fakeResolver{}, &fakeDeliverer{}, nil, 7, nil)

	_, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 7, store.gotLimit)
}

func TestTickService_Run_DefaultsBatchLimit(t *testing.T) {
	store := &fakeTickStore{}
	svc := NewTickService(store, fakeResolver{}, &fakeDeliverer{}, nil, 0, nil)

	_, err := svc.Run(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 50, store.gotLimit)
}
