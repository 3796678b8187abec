// Package repository provides GORM-backed persistence for download jobs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmylchreest/hlsfetch/internal/models"
	"gorm.io/gorm"
)

// JobRepository persists and queries DownloadJob records.
type JobRepository interface {
	// Create inserts a new job in the Pending state.
	Create(ctx context.Context, job *models.Job) error

	// Get returns a job by ID.
	Get(ctx context.Context, id models.ULID) (*models.Job, error)

	// AcquireJob atomically claims the oldest eligible pending job for the
	// given worker, or returns (nil, nil) if none is available.
	AcquireJob(ctx context.Context, workerID string) (*models.Job, error)

	// Update persists changes to an existing job.
	Update(ctx context.Context, job *models.Job) error

	// Cancel marks a job cancelled if it is not already finished.
	Cancel(ctx context.Context, id models.ULID) error

	// GetPending returns all jobs awaiting dispatch.
	GetPending(ctx context.Context) ([]*models.Job, error)

	// GetRunning returns all jobs currently locked by a worker.
	GetRunning(ctx context.Context) ([]*models.Job, error)

	// DeleteCompleted removes finished jobs older than cutoff, returning the
	// number of rows removed.
	DeleteCompleted(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteHistory removes job history rows older than cutoff.
	DeleteHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormJobRepository is the GORM implementation of JobRepository.
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GORM-backed job repository.
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// Create inserts a new job.
func (r *GormJobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get returns a job by ID.
func (r *GormJobRepository) Get(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// AcquireJob claims the oldest pending job whose NextRunAt has passed,
// transitioning it to Running within a transaction so concurrent workers
// never double-claim the same row.
func (r *GormJobRepository) AcquireJob(ctx context.Context, workerID string) (*models.Job, error) {
	var job *models.Job

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidate models.Job
		now := models.Now()

		err := tx.
			Where("status = ?", models.JobStatusPending).
			Where("next_run_at IS NULL OR next_run_at <= ?", now).
			Order("created_at ASC").
			Clauses(lockingClause()).
			First(&candidate).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		candidate.MarkRunning(workerID)
		if err := tx.Save(&candidate).Error; err != nil {
			return err
		}

		job = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	return job, nil
}

// Update persists changes to an existing job.
func (r *GormJobRepository) Update(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// Cancel marks a job cancelled if it is not already finished.
func (r *GormJobRepository) Cancel(ctx context.Context, id models.ULID) error {
	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return gorm.ErrRecordNotFound
	}
	if job.IsFinished() {
		return nil
	}
	job.MarkCancelled()
	return r.Update(ctx, job)
}

// GetPending returns all jobs awaiting dispatch.
func (r *GormJobRepository) GetPending(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusPending).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// GetRunning returns all jobs currently locked by a worker.
func (r *GormJobRepository) GetRunning(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusRunning).
		Find(&jobs).Error
	return jobs, err
}

// DeleteCompleted removes finished jobs older than cutoff, archiving each
// into job_history first.
func (r *GormJobRepository) DeleteCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	var jobs []*models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled}).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Find(&jobs).Error
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var deleted int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, job := range jobs {
			if err := tx.Create(models.NewJobHistory(job)).Error; err != nil {
				return err
			}
			if err := tx.Delete(job).Error; err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// DeleteHistory removes job history rows older than cutoff.
func (r *GormJobRepository) DeleteHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
		Delete(&models.JobHistory{})
	return result.RowsAffected, result.Error
}
