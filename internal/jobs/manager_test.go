package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/models"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingPublisher struct {
	mu       sync.Mutex
	users    []string
	messages []notify.Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, userID string, msg notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = append(p.users, userID)
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) sent() []notify.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Message{}, p.messages...)
}

type fixture struct {
	repo      *database.JobRepository
	publisher *recordingPublisher
	metrics   *monitoring.Collector
	manager   *Manager
}

func newFixture(t *testing.T, cfg config.JobsConfig) *fixture {
	t.Helper()
	db, err := database.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	repo := database.NewJobRepository(db)
	publisher := &recordingPublisher{}
	metrics := monitoring.NewCollector(prometheus.NewRegistry())
	manager := NewManager(repo, publisher, metrics, cfg, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, manager.Shutdown(ctx))
	})
	return &fixture{repo: repo, publisher: publisher, metrics: metrics, manager: manager}
}

func trainRequest(objectID string) Request {
	return Request{
		UserID:     "user-1",
		Type:       models.JobTrainModel,
		ObjectType: models.ObjectModel,
		ObjectID:   objectID,
		Params:     map[string]any{"model_id": objectID},
	}
}

func (f *fixture) waitFinished(t *testing.T, id string) *models.BackgroundJob {
	t.Helper()
	var job *models.BackgroundJob
	require.Eventually(t, func() bool {
		got, err := f.manager.Get(context.Background(), "user-1", id)
		if err != nil {
			return false
		}
		job = got
		return got.FinishedAt != nil
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitAsync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{AsyncExecution: true, MaxConcurrent: 2})

	release := make(chan struct{})
	job, err := f.manager.Submit(ctx, trainRequest("model-1"), func(ctx context.Context) (string, error) {
		<-release
		return "Model trained", nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusWaiting, job.Status)
	assert.Equal(t, "model-1", job.InputParams["model_id"])

	require.Eventually(t, func() bool {
		got, err := f.manager.Get(ctx, "user-1", job.ID)
		return err == nil && got.Status == models.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)
	close(release)

	done := f.waitFinished(t, job.ID)
	assert.Equal(t, models.JobStatusComplete, done.Status)
	require.NotNil(t, done.OutputMessage)
	assert.Equal(t, "Model trained", *done.OutputMessage)
	assert.Nil(t, done.ErrorType)

	require.Eventually(t, func() bool { return len(f.publisher.sent()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, notify.Message{TaskID: job.ID, Status: models.JobStatusComplete, Message: "Model trained"}, f.publisher.sent()[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsFinished.WithLabelValues("train_model", "Complete")))
}

func TestSubmitFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{AsyncExecution: true, MaxConcurrent: 1})

	t.Run("typed error", func(t *testing.T) {
		job, err := f.manager.Submit(ctx, trainRequest("model-2"), func(ctx context.Context) (string, error) {
			return "", apperrors.New(apperrors.ModelNotTrained, "model %q is not trained", "m")
		})
		require.NoError(t, err)

		done := f.waitFinished(t, job.ID)
		assert.Equal(t, models.JobStatusError, done.Status)
		require.NotNil(t, done.ErrorType)
		assert.Equal(t, "ModelNotTrained", *done.ErrorType)
		assert.Equal(t, `model "m" is not trained`, *done.OutputMessage)
	})

	t.Run("untyped error is internal", func(t *testing.T) {
		job, err := f.manager.Submit(ctx, trainRequest("model-3"), func(ctx context.Context) (string, error) {
			return "", errors.New("disk on fire")
		})
		require.NoError(t, err)

		done := f.waitFinished(t, job.ID)
		assert.Equal(t, "Internal", *done.ErrorType)
		assert.Equal(t, "disk on fire", *done.OutputMessage)
	})

	t.Run("panic", func(t *testing.T) {
		job, err := f.manager.Submit(ctx, trainRequest("model-4"), func(ctx context.Context) (string, error) {
			panic("boom")
		})
		require.NoError(t, err)

		done := f.waitFinished(t, job.ID)
		assert.Equal(t, models.JobStatusError, done.Status)
		assert.Equal(t, "Internal", *done.ErrorType)
	})

	t.Run("publish failure keeps the result", func(t *testing.T) {
		f.publisher.mu.Lock()
		f.publisher.err = errors.New("bus down")
		f.publisher.mu.Unlock()

		job, err := f.manager.Submit(ctx, trainRequest("model-5"), func(ctx context.Context) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusComplete, f.waitFinished(t, job.ID).Status)
	})
}

func TestSubmitSync(t *testing.T) {
	f := newFixture(t, config.JobsConfig{AsyncExecution: false, MaxConcurrent: 1})

	job, err := f.manager.Submit(context.Background(), trainRequest("model-1"), func(ctx context.Context) (string, error) {
		return "done inline", nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	require.NotNil(t, job.FinishedAt)
	assert.Len(t, f.publisher.sent(), 1)
}

func TestConcurrencyLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{AsyncExecution: true, MaxConcurrent: 2})

	var running, peak atomic.Int32
	release := make(chan struct{})
	ids := make([]string, 5)
	for i := range ids {
		job, err := f.manager.Submit(ctx, trainRequest("model"), func(ctx context.Context) (string, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return "ok", nil
		})
		require.NoError(t, err)
		ids[i] = job.ID
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	close(release)
	for _, id := range ids {
		f.waitFinished(t, id)
	}
	assert.EqualValues(t, 2, peak.Load())
}

func TestListByObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{AsyncExecution: false, MaxConcurrent: 1})
	noop := func(ctx context.Context) (string, error) { return "ok", nil }

	_, err := f.manager.Submit(ctx, trainRequest("model-a"), noop)
	require.NoError(t, err)
	_, err = f.manager.Submit(ctx, trainRequest("model-a"), noop)
	require.NoError(t, err)
	_, err = f.manager.Submit(ctx, trainRequest("model-b"), noop)
	require.NoError(t, err)

	jobs, err := f.manager.ListByObject(ctx, "user-1", models.ObjectModel, "model-a")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	all, err := f.manager.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	other, err := f.manager.List(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStartFailsOrphans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{MaxConcurrent: 1, FailOrphansOnStartup: true})

	orphan := &models.BackgroundJob{
		UserID:     "user-1",
		Type:       models.JobApplyMethods,
		ObjectType: models.ObjectDataFrame,
		ObjectID:   "df-1",
		Status:     models.JobStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.repo.Create(ctx, orphan))

	require.NoError(t, f.manager.Start(ctx))

	got, err := f.manager.Get(ctx, "user-1", orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusError, got.Status)
	assert.Equal(t, orphanMessage, *got.OutputMessage)
	assert.NotNil(t, got.FinishedAt)
}

func TestShutdownFailsQueuedJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{AsyncExecution: true, MaxConcurrent: 1})

	release := make(chan struct{})
	first, err := f.manager.Submit(ctx, trainRequest("model-1"), func(ctx context.Context) (string, error) {
		<-release
		return "ok", nil
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := f.manager.Get(ctx, "user-1", first.ID)
		return err == nil && got.Status == models.JobStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	queued, err := f.manager.Submit(ctx, trainRequest("model-2"), func(ctx context.Context) (string, error) {
		return "never", nil
	})
	require.NoError(t, err)

	shutdown := make(chan error, 1)
	go func() { shutdown <- f.manager.Shutdown(ctx) }()

	assert.Equal(t, models.JobStatusError, f.waitFinished(t, queued.ID).Status)
	close(release)
	require.NoError(t, <-shutdown)
	assert.Equal(t, models.JobStatusComplete, f.waitFinished(t, first.ID).Status)
}

func TestSubmitAfterShutdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.JobsConfig{AsyncExecution: true, MaxConcurrent: 1})
	require.NoError(t, f.manager.Shutdown(ctx))

	job, err := f.manager.Submit(ctx, trainRequest("model-1"), func(ctx context.Context) (string, error) {
		return "never", nil
	})
	assert.Nil(t, job)
	assert.True(t, apperrors.HasCode(err, apperrors.Internal))

	list, err := f.manager.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
