package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/hlsfetch/internal/models"
	"github.com/jmylchreest/hlsfetch/internal/repository"
)

// DownloadRunner is implemented by the pipeline controller. Run drives a
// job from Resolving through to a terminal state, calling progress back
// into the job via reportProgress as it advances.
type DownloadRunner interface {
	Run(ctx context.Context, job *models.Job, reportProgress func(phase string, percent int)) error
}

// Executor dispatches acquired jobs to the pipeline controller and persists
// the resulting status.
type Executor struct {
	runner  DownloadRunner
	jobRepo repository.JobRepository
	logger  *slog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(runner DownloadRunner, jobRepo repository.JobRepository) *Executor {
	return &Executor{
		runner:  runner,
		jobRepo: jobRepo,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// Execute runs a single download job end to end and persists its outcome.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	e.logger.Info("executing job",
		slog.String("job_id", job.ID.String()),
		slog.String("source_url", job.SourceURL))

	reportProgress := func(phase string, percent int) {
		job.UpdateProgress(phase, percent)
		if err := e.jobRepo.Update(ctx, job); err != nil {
			e.logger.Warn("failed to persist progress",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}
	}

	err := e.runner.Run(ctx, job, reportProgress)

	switch {
	case err == nil:
		job.MarkCompleted()
		e.logger.Info("job completed", slog.String("job_id", job.ID.String()))
	case ctx.Err() != nil:
		job.MarkCancelled()
		e.logger.Info("job cancelled", slog.String("job_id", job.ID.String()))
	default:
		kind := classifyErrorKind(err)
		job.MarkFailed(kind, err)
		e.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("error_kind", string(kind)),
			slog.Any("error", err))

		if job.CanRetry() {
			job.ScheduleRetry()
			e.logger.Info("job scheduled for dispatch retry",
				slog.String("job_id", job.ID.String()),
				slog.Int("attempt", job.AttemptCount))
		}
	}

	if updateErr := e.jobRepo.Update(ctx, job); updateErr != nil {
		e.logger.Error("failed to update job status",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", updateErr))
		return fmt.Errorf("updating job status: %w", updateErr)
	}

	return nil
}

// errorKinder is implemented by pipeline errors that carry a specific
// taxonomy kind (network failure, no segments found, fetch floor missed, ...).
type errorKinder interface {
	ErrorKind() models.ErrorKind
}

// classifyErrorKind maps a pipeline error to the persisted taxonomy kind.
func classifyErrorKind(err error) models.ErrorKind {
	var kindErr errorKinder
	if errors.As(err, &kindErr) {
		return kindErr.ErrorKind()
	}
	return models.ErrorKindSinkFailure
}
