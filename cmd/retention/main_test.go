package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodgemail/internal/scheduler"
)

type fakeSweep struct {
	result scheduler.RetentionResult
	err    error
	calls  int
}

func (f *fakeSweep) Run(_ context.Context, _ time.Time) (scheduler.RetentionResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeLock struct {
	acquired    bool
	gotLockName string
	released    bool
}

func (f *fakeLock) Acquire(_ context.Context, lockName, _ string, _ time.Duration) (bool, error) {
	f.gotLockName = lockName
	return f.acquired, nil
}

func (f *fakeLock) Release(_ context.Context, _, _ string) error {
	f.released = true
	return nil
}

type fakeHistory struct {
	gotJob    string
	gotStatus string
	gotDetail string
}

func (f *fakeHistory) Start(_ context.Context, jobName string, _ time.Time) (int64, error) {
	f.gotJob = jobName
	return 9, nil
}

func (f *fakeHistory) Finish(_ context.Context, _ int64, status, detail string, _ time.Time) error {
	f.gotStatus = status
	f.gotDetail = detail
	return nil
}

func TestHandle_RunsSweepAndRecordsHistory(t *testing.T) {
	sweep := &fakeSweep{result: scheduler.RetentionResult{
		Deleted:  120,
		Archived: 120,
		Key:      "dispatch/2026/07/batch_1.jsonl.gz",
	}}
	lock := &fakeLock{acquired: true}
	history := &fakeHistory{}
	h := &Handler{Sweep: sweep, JobLock: lock, JobHistory: history, WorkerID: "worker-1"}

	ref := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	out, err := h.Handle(context.Background(), scheduler.MaintenancePayload{ReferenceTime: &ref})
	require.NoError(t, err)
	assert.Contains(t, out, "deleted=120 archived=120")

	assert.Equal(t, "retention-sweep:2026-08-01", lock.gotLockName,
		"lock is keyed to the trigger day")
	assert.True(t, lock.released)
	assert.Equal(t, "retention-sweep", history.gotJob)
	assert.Equal(t, "success", history.gotStatus)
	assert.Contains(t, history.gotDetail, "key=dispatch/2026/07/batch_1.jsonl.gz")
}

func TestHandle_LockHeldSkipsSweep(t *testing.T) {
	sweep := &fakeSweep{}
	h := &Handler{Sweep: sweep, JobLock: &fakeLock{}, JobHistory: &fakeHistory{}, WorkerID: "worker-1"}

	out, err := h.Handle(context.Background(), scheduler.MaintenancePayload{})
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
	assert.Zero(t, sweep.calls)
}

func TestHandle_SweepErrorRecordedButSwallowed(t *testing.T) {
	sweep := &fakeSweep{err: errors.New("upload failed")}
	lock := &fakeLock{acquired: true}
	history := &fakeHistory{}
	h := &Handler{Sweep: sweep, JobLock: lock, JobHistory: history, WorkerID: "worker-1"}

	out, err := h.Handle(context.Background(), scheduler.MaintenancePayload{})
	require.NoError(t, err, "a failed sweep must not trigger a Lambda retry")
	assert.Contains(t, out, "sweep failed")
	assert.Equal(t, "failed", history.gotStatus)
	assert.Contains(t, history.gotDetail, "upload failed")
	assert.True(t, lock.released)
}
