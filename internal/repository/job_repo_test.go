package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/hlsfetch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.JobHistory{}))
	return db
}

func TestGormJobRepository_CreateAndGet(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	job := &models.Job{SourceURL: "https://example.com/master.m3u8", OutputName: "capture"}
	require.NoError(t, repo.Create(ctx, job))
	assert.False(t, job.ID.IsZero())
	assert.Equal(t, models.JobStatusPending, job.Status)

	fetched, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, job.SourceURL, fetched.SourceURL)
}

func TestGormJobRepository_Get_NotFound(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)

	fetched, err := repo.Get(context.Background(), models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, fetched)
}

func TestGormJobRepository_AcquireJob(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	job := &models.Job{SourceURL: "https://example.com/master.m3u8", OutputName: "capture"}
	require.NoError(t, repo.Create(ctx, job))

	acquired, err := repo.AcquireJob(ctx, "worker-0")
	require.NoError(t, err)
	require.NotNil(t, acquired)
	assert.Equal(t, models.JobStatusRunning, acquired.Status)
	assert.Equal(t, "worker-0", acquired.LockedBy)
	assert.Equal(t, 1, acquired.AttemptCount)

	none, err := repo.AcquireJob(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGormJobRepository_AcquireJob_RespectsNextRunAt(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	future := models.Now().Add(time.Hour)
	job := &models.Job{SourceURL: "https://example.com/master.m3u8", OutputName: "capture", NextRunAt: &future}
	require.NoError(t, repo.Create(ctx, job))

	none, err := repo.AcquireJob(ctx, "worker-0")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGormJobRepository_Cancel(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	job := &models.Job{SourceURL: "https://example.com/master.m3u8", OutputName: "capture"}
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.Cancel(ctx, job.ID))

	fetched, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, fetched.Status)

	// Cancelling an already-finished job is a no-op, not an error.
	require.NoError(t, repo.Cancel(ctx, job.ID))
}

func TestGormJobRepository_GetPendingAndRunning(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	pendingJob := &models.Job{SourceURL: "https://example.com/a.m3u8", OutputName: "a"}
	require.NoError(t, repo.Create(ctx, pendingJob))

	runningJob := &models.Job{SourceURL: "https://example.com/b.m3u8", OutputName: "b"}
	require.NoError(t, repo.Create(ctx, runningJob))
	_, err := repo.AcquireJob(ctx, "worker-0")
	require.NoError(t, err)

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	running, err := repo.GetRunning(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestGormJobRepository_DeleteCompleted(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	job := &models.Job{SourceURL: "https://example.com/master.m3u8", OutputName: "capture"}
	require.NoError(t, repo.Create(ctx, job))

	job.MarkCompleted()
	old := models.Now().Add(-48 * time.Hour)
	job.CompletedAt = &old
	require.NoError(t, repo.Update(ctx, job))

	deleted, err := repo.DeleteCompleted(ctx, models.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	fetched, err := repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched)

	var historyCount int64
	require.NoError(t, db.Model(&models.JobHistory{}).Count(&historyCount).Error)
	assert.Equal(t, int64(1), historyCount)
}

func TestGormJobRepository_DeleteHistory(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewGormJobRepository(db)
	ctx := context.Background()

	old := models.Now().Add(-48 * time.Hour)
	history := &models.JobHistory{
		JobID:       models.NewULID(),
		SourceURL:   "https://example.com/master.m3u8",
		Status:      models.JobStatusCompleted,
		CompletedAt: &old,
	}
	require.NoError(t, db.Create(history).Error)

	deleted, err := repo.DeleteHistory(ctx, models.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
