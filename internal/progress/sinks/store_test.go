package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/progress"
	"github.com/JakeFAU/sitegraph/internal/store"
)

// TestStoreSinkPersistsJobEvents ensures only job-level events reach the repository.
func TestStoreSinkPersistsJobEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Now()

	batch := []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobStart, TS: now},
		{JobID: "job-1", Stage: progress.StageFetchDone, Site: "example.com", StatusClass: progress.Status2xx, TS: now},
		{JobID: "job-1", Stage: progress.StageJobProgress, Progress: 10, TS: now.Add(time.Second)},
		{JobID: "job-1", Stage: progress.StageJobError, Progress: 10, Note: "boom", TS: now.Add(2 * time.Second)},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.records, 3)
	require.Equal(t, "JOB_START", repo.records[0].Stage)
	require.Equal(t, 10, repo.records[1].Progress)
	require.Equal(t, "boom", repo.records[2].Note)
	require.Equal(t, 1, repo.calls)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(&fakeEventRepo{fail: true}, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageJobStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "append job events")
}

// TestStoreSinkSkipsFetchOnlyBatches avoids empty writes.
func TestStoreSinkSkipsFetchOnlyBatches(t *testing.T) {
	t.Parallel()

	repo := &fakeEventRepo{}
	require.NoError(t, NewStoreSink(repo, nil).Consume(context.Background(), []progress.Event{
		{JobID: "job-1", Stage: progress.StageFetchDone},
	}))
	require.Zero(t, repo.calls)
}

type fakeEventRepo struct {
	fail    bool
	calls   int
	records []store.EventRecord
}

func (f *fakeEventRepo) AppendEvents(_ context.Context, events []store.EventRecord) error {
	f.calls++
	if f.fail {
		return assertErr("append")
	}
	f.records = append(f.records, events...)
	return nil
}

func (f *fakeEventRepo) ListEvents(context.Context, string, int) ([]store.EventRecord, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
