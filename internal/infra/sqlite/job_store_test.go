package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/book-rag/internal/core/jobs"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	store, err := NewJobStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

func TestJobStore_SetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "job-1", jobs.StatusQueued, "Upload accepted"))

	rec, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", rec.JobID)
	assert.Equal(t, jobs.StatusQueued, rec.Status)
	assert.Equal(t, "Upload accepted", rec.Detail)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestJobStore_GetUnknownJob(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestJobStore_SetOverwritesStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// queued → running → completed の遷移を同じ行に上書きする
	require.NoError(t, store.Set(ctx, "job-2", jobs.StatusQueued, "Upload accepted"))
	require.NoError(t, store.Set(ctx, "job-2", jobs.StatusRunning, "Indexing started"))
	require.NoError(t, store.Set(ctx, "job-2", jobs.StatusCompleted, "Indexed 12 pages into 34 chunks."))

	rec, err := store.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
	assert.Equal(t, "Indexed 12 pages into 34 chunks.", rec.Detail)
}

func TestJobStore_TracksJobsIndependently(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "job-a", jobs.StatusFailed, "failed to open document"))
	require.NoError(t, store.Set(ctx, "job-b", jobs.StatusRunning, "Indexing started"))

	recA, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	recB, err := store.Get(ctx, "job-b")
	require.NoError(t, err)

	assert.Equal(t, jobs.StatusFailed, recA.Status)
	assert.Equal(t, jobs.StatusRunning, recB.Status)
}

func TestJobStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewJobStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "job-persist", jobs.StatusCompleted, "done"))
	assert.Equal(t, filepath.Join(dir, jobsDBFileName), store.Path())
	require.NoError(t, store.Close())

	reopened, err := NewJobStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(ctx, "job-persist")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, rec.Status)
}
