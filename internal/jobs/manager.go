package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/notify"
)

const (
	defaultPublishTimeout = 5 * time.Second
	orphanMessage         = "service restarted before the job finished"
)

// Work is the body of a job. The returned message becomes the job's output.
type Work func(ctx context.Context) (string, error)

// Request describes the job to create
type Request struct {
	UserID     string
	Type       models.JobType
	ObjectType models.ObjectType
	ObjectID   string
	Params     map[string]any
}

// Manager runs long operations as tracked background jobs
type Manager struct {
	jobs           *database.JobRepository
	publisher      notify.Publisher
	metrics        *monitoring.Collector
	sem            *semaphore.Weighted
	async          bool
	publishTimeout time.Duration
	failOrphans    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewManager creates a job manager bounded to cfg.MaxConcurrent running jobs
func NewManager(
	jobs *database.JobRepository,
	publisher notify.Publisher,
	metrics *monitoring.Collector,
	cfg config.JobsConfig,
	logger *zap.Logger,
) *Manager {
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:           jobs,
		publisher:      publisher,
		metrics:        metrics,
		sem:            semaphore.NewWeighted(limit),
		async:          cfg.AsyncExecution,
		publishTimeout: timeout,
		failOrphans:    cfg.FailOrphansOnStartup,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger.With(zap.String("component", "job_manager")),
	}
}

// Start applies the startup policy for jobs a previous process left unfinished
func (m *Manager) Start(ctx context.Context) error {
	if !m.failOrphans {
		return nil
	}
	n, err := m.jobs.FailOrphans(ctx, orphanMessage)
	if err != nil {
		return fmt.Errorf("failed to fail orphaned jobs: %w", err)
	}
	if n > 0 {
		m.logger.Warn("Orphaned jobs marked as failed", zap.Int64("count", n))
	}
	return nil
}

// Submit records a Waiting job and runs work on the pool. In synchronous mode the
// work runs before Submit returns and the finished job is returned.
func (m *Manager) Submit(ctx context.Context, req Request, work Work) (*models.BackgroundJob, error) {
	if m.ctx.Err() != nil {
		return nil, apperrors.New(apperrors.Internal, "job manager is shutting down")
	}
	job := &models.BackgroundJob{
		ID:          models.NewID(),
		UserID:      req.UserID,
		Type:        req.Type,
		ObjectType:  req.ObjectType,
		ObjectID:    req.ObjectID,
		Status:      models.JobStatusWaiting,
		InputParams: req.Params,
		StartedAt:   time.Now().UTC(),
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	m.metrics.JobsStarted.WithLabelValues(string(job.Type)).Inc()

	m.logger.Info("Job submitted",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("type", string(job.Type)),
		zap.String("object_id", job.ObjectID),
		zap.Bool("async", m.async))

	if !m.async {
		return m.run(job, work), nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(job, work)
	}()
	return job, nil
}

// run executes one job to completion and returns its final document
func (m *Manager) run(job *models.BackgroundJob, work Work) *models.BackgroundJob {
	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		return m.finish(job, "", apperrors.Wrap(apperrors.Internal, err, "job manager stopped before the job started"), 0)
	}
	defer m.sem.Release(1)

	// a job has no cancellation hook once it holds a slot
	ctx := context.WithoutCancel(m.ctx)

	if updated, err := m.jobs.Update(ctx, job.UserID, job.ID, func(j *models.BackgroundJob) error {
		j.Status = models.JobStatusRunning
		return nil
	}); err != nil {
		m.logger.Error("Failed to mark job running", zap.String("job_id", job.ID), zap.Error(err))
	} else {
		job = updated
	}

	m.metrics.JobsRunning.Inc()
	start := time.Now()
	message, err := execute(ctx, work)
	m.metrics.JobsRunning.Dec()

	return m.finish(job, message, err, time.Since(start))
}

func execute(ctx context.Context, work Work) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.Internal, "job panicked: %v", r).With("stack_trace", string(debug.Stack()))
		}
	}()
	return work(ctx)
}

// finish stores the terminal status and notifies the owner
func (m *Manager) finish(job *models.BackgroundJob, message string, jobErr error, elapsed time.Duration) *models.BackgroundJob {
	ctx := context.WithoutCancel(m.ctx)
	status := models.JobStatusComplete
	var errorType *string
	if jobErr != nil {
		status = models.JobStatusError
		code := string(apperrors.CodeOf(jobErr))
		errorType = &code
		message = jobErr.Error()
		if e, ok := apperrors.As(jobErr); ok {
			message = e.Message
		}
	}

	now := time.Now().UTC()
	updated, err := m.jobs.Update(ctx, job.UserID, job.ID, func(j *models.BackgroundJob) error {
		j.Status = status
		j.OutputMessage = &message
		j.ErrorType = errorType
		j.FinishedAt = &now
		return nil
	})
	if err != nil {
		m.logger.Error("Failed to store job result", zap.String("job_id", job.ID), zap.Error(err))
		job.Status, job.OutputMessage, job.ErrorType, job.FinishedAt = status, &message, errorType, &now
		updated = job
	}
	m.metrics.RecordJob(string(job.Type), string(status), elapsed)

	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.String("type", string(job.Type)),
		zap.Duration("duration", elapsed),
	}
	if jobErr != nil {
		m.logger.Warn("Job failed", append(fields, zap.Error(jobErr))...)
	} else {
		m.logger.Info("Job completed", fields...)
	}

	m.publish(ctx, updated)
	return updated
}

func (m *Manager) publish(ctx context.Context, job *models.BackgroundJob) {
	ctx, cancel := context.WithTimeout(ctx, m.publishTimeout)
	defer cancel()

	msg := notify.Message{TaskID: job.ID, Status: job.Status}
	if job.OutputMessage != nil {
		msg.Message = *job.OutputMessage
	}
	if err := m.publisher.Publish(ctx, job.UserID, msg); err != nil {
		m.metrics.NotificationsPublished.WithLabelValues("error").Inc()
		m.logger.Error("Failed to publish job notification", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	m.metrics.NotificationsPublished.WithLabelValues("ok").Inc()
}

// Shutdown stops starting queued jobs and waits for running ones
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	// jobs already holding a slot run to completion; queued ones fail fast
	m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns one job of a user
func (m *Manager) Get(ctx context.Context, userID, id string) (*models.BackgroundJob, error) {
	return m.jobs.Get(ctx, userID, id)
}

// List returns every job of a user
func (m *Manager) List(ctx context.Context, userID string) ([]models.BackgroundJob, error) {
	return m.jobs.List(ctx, userID)
}

// ListByObject returns the jobs that operated on one dataframe or model
func (m *Manager) ListByObject(ctx context.Context, userID string, objectType models.ObjectType, objectID string) ([]models.BackgroundJob, error) {
	return m.jobs.ListByObject(ctx, userID, objectType, objectID)
}
