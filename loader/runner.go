// Package loader runs extract and ingest work in the background so HTTP
// callers get a job handle instead of holding a connection across a poll.
package loader

import (
	"context"
	"sync"
	"time"

	"docintel/store"
	"docintel/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Task does the work for one job and returns its result fields.
type Task func(ctx context.Context) (map[string]string, error)

type queued struct {
	job  types.Job
	task Task
}

type Runner struct {
	jobs    store.JobStore
	queue   chan queued
	workers int
	logger  *zap.Logger
	now     func() time.Time
}

func NewRunner(jobs store.JobStore, workers, queueSize int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		jobs:    jobs,
		queue:   make(chan queued, queueSize),
		workers: workers,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit records a queued job and hands task to the worker pool.
// It never blocks: a full queue fails the job immediately.
func (r *Runner) Submit(ctx context.Context, kind types.JobKind, ref types.SourceRef, task Task) (*types.Job, error) {
	now := r.now().UTC()
	job := types.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    types.JobStatusQueued,
		SourceRef: ref,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.jobs.SaveJob(ctx, &job); err != nil {
		return nil, types.Wrap(err, types.KindUpstreamUnavailable, types.StageJobs, "save job")
	}

	select {
	case r.queue <- queued{job: job, task: task}:
	default:
		qerr := types.Unavailable(types.StageJobs, "job queue is full", nil)
		r.finish(ctx, &job, nil, qerr)
		return nil, qerr
	}

	r.logger.Info("job queued", zap.String("job_id", job.ID), zap.String("kind", string(kind)), zap.String("key", ref.ObjectKey))
	return &job, nil
}

func (r *Runner) Get(ctx context.Context, id string) (*types.Job, error) {
	return r.jobs.GetJob(ctx, id)
}

// Run starts the workers and blocks until ctx is cancelled, then waits up to
// shutdownTimeout for running jobs to return and fails the ones never started.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx, i)
		}()
	}
	r.logger.Info("job runner started", zap.Int("workers", r.workers), zap.Int("queue_size", cap(r.queue)))

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("job runner stopped")
	case <-time.After(shutdownTimeout):
		r.logger.Warn("timeout waiting for jobs to stop, forcing shutdown")
	}
	r.drain(ctx)
}

// drain fails every job that was still waiting in the queue at shutdown.
func (r *Runner) drain(ctx context.Context) {
	for {
		select {
		case q := <-r.queue:
			job := q.job
			r.finish(ctx, &job, nil, types.TimedOut(types.StageJobs, "runner stopped before job started", nil))
			r.logger.Warn("queued job abandoned at shutdown", zap.String("job_id", job.ID))
		default:
			return
		}
	}
}

func (r *Runner) work(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case q := <-r.queue:
			r.execute(ctx, worker, q)
		}
	}
}

func (r *Runner) execute(ctx context.Context, worker int, q queued) {
	job := q.job
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)), zap.Int("worker", worker))

	job.Status = types.JobStatusRunning
	job.UpdatedAt = r.now().UTC()
	if err := r.jobs.SaveJob(ctx, &job); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
	}

	start := time.Now()
	result, err := r.safeRun(ctx, q.task)
	r.finish(ctx, &job, result, err)

	if err != nil {
		log.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	log.Info("job succeeded", zap.Duration("duration", time.Since(start)))
}

func (r *Runner) safeRun(ctx context.Context, task Task) (result map[string]string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("job panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = &types.Error{Kind: types.KindUnknown, Stage: types.StageJobs, Msg: "job panicked"}
		}
	}()
	return task(ctx)
}

func (r *Runner) finish(ctx context.Context, job *types.Job, result map[string]string, err error) {
	job.UpdatedAt = r.now().UTC()
	if err != nil {
		job.Status = types.JobStatusFailed
		job.Error = err.Error()
		job.ErrorCode = types.KindOf(err).String()
	} else {
		job.Status = types.JobStatusSucceeded
		job.Result = result
	}
	if serr := r.jobs.SaveJob(context.WithoutCancel(ctx), job); serr != nil {
		r.logger.Error("failed to save job status", zap.String("job_id", job.ID), zap.String("status", string(job.Status)), zap.Error(serr))
	}
}
