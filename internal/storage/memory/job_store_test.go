package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	created := time.Unix(100, 0).UTC()
	job := crawler.Job{ID: "job-1", OwnerID: "u1", GroupingKey: "r1", Status: crawler.JobStatusPending, CreatedAt: created}

	require.NoError(t, store.Insert(ctx, job))
	require.Error(t, store.Insert(ctx, job), "duplicate id must be rejected")

	active, err := store.FindActiveByGroupingKey(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "job-1", active.ID)

	claimed, err := store.Claim(ctx, job.ID, created.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	_, err = store.Claim(ctx, job.ID, created.Add(2*time.Second))
	require.ErrorIs(t, err, crawler.ErrClaimLost)

	require.NoError(t, store.UpdateProgress(ctx, job.ID, crawler.ProgressMergeComplete))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, crawler.ProgressCrawlStarted))
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.ProgressMergeComplete, got.Progress, "progress never decreases")

	require.NoError(t, store.Complete(ctx, job.ID, created.Add(time.Minute)))
	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)

	_, err = store.FindActiveByGroupingKey(ctx, "r1")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestJobStoreFailKeepsProgress(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, crawler.Job{ID: "j", Status: crawler.JobStatusPending}))
	_, err := store.Claim(ctx, "j", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.UpdateProgress(ctx, "j", crawler.ProgressCrawlStarted))

	require.NoError(t, store.Fail(ctx, "j", "boom", time.Now()))

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	require.Equal(t, "boom", got.ErrorMessage)
	require.Equal(t, crawler.ProgressCrawlStarted, got.Progress)
}

func TestJobStoreOrdering(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Unix(1000, 0).UTC()
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.Insert(ctx, crawler.Job{
			ID:          id,
			OwnerID:     "owner",
			GroupingKey: id,
			Status:      crawler.JobStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
	// same timestamp as "c": insertion order decides
	require.NoError(t, store.Insert(ctx, crawler.Job{ID: "d", OwnerID: "other", GroupingKey: "d", Status: crawler.JobStatusPending, CreatedAt: base}))

	oldest, err := store.OldestPending(ctx)
	require.NoError(t, err)
	require.Equal(t, "c", oldest.ID)

	jobs, err := store.ListByOwner(ctx, "owner")
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	require.Equal(t, []string{"b", "a", "c"}, ids)

	_, err = store.Claim(ctx, "a", base)
	require.NoError(t, err)
	running, err := store.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	require.Equal(t, "a", running[0].ID)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.OldestPending(ctx)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.ErrorIs(t, store.UpdateProgress(ctx, "missing", 10), crawler.ErrNotFound)
	require.ErrorIs(t, store.Fail(ctx, "missing", "x", time.Now()), crawler.ErrNotFound)
}

func TestJobStoreOneActiveJobPerKey(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	first := crawler.Job{ID: "j1", GroupingKey: "r1", Status: crawler.JobStatusPending}
	require.NoError(t, store.Insert(ctx, first))

	second := crawler.Job{ID: "j2", GroupingKey: "r1", Status: crawler.JobStatusPending}
	require.ErrorIs(t, store.Insert(ctx, second), crawler.ErrActiveKeyTaken)

	_, err := store.Claim(ctx, "j1", time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, store.Insert(ctx, second), crawler.ErrActiveKeyTaken)

	require.NoError(t, store.Fail(ctx, "j1", "boom", time.Now()))
	require.NoError(t, store.Insert(ctx, second), "a finished job frees the key")
}

func TestJobStoreTerminalRequiresRunning(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, crawler.Job{ID: "j", GroupingKey: "r", Status: crawler.JobStatusPending}))

	require.ErrorIs(t, store.Complete(ctx, "j", time.Now()), crawler.ErrNotRunning, "pending jobs cannot complete")

	_, err := store.Claim(ctx, "j", time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "j", time.Now()))
	require.ErrorIs(t, store.Fail(ctx, "j", "late failure", time.Now()), crawler.ErrNotRunning)

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Empty(t, got.ErrorMessage)
}
