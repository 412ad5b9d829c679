package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memImportJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*ImportJob
}

func newMemImportJobRepo() *memImportJobRepo {
	return &memImportJobRepo{jobs: map[string]*ImportJob{}}
}

func (r *memImportJobRepo) Create(_ context.Context, createdBy int64, payload string) (*ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := &ImportJob{ID: uuid.NewString(), CreatedBy: createdBy, Payload: payload, Status: ImportPending, CreatedAt: time.Now()}
	r.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (r *memImportJobRepo) Get(_ context.Context, id string) (*ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, notFoundError("import job")
	}
	cp := *j
	return &cp, nil
}

func (r *memImportJobRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *memImportJobRepo) AcquirePending(_ context.Context, id string) (*ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, notFoundError("import job")
	}
	if j.Status != ImportPending {
		return nil, ErrImportNotPending
	}
	j.Status = ImportRunning
	cp := *j
	return &cp, nil
}

func (r *memImportJobRepo) MarkStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = status
	}
	return nil
}

func (r *memImportJobRepo) IncrementRetry(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return 0, notFoundError("import job")
	}
	j.RetryCount++
	return j.RetryCount, nil
}

func (r *memImportJobRepo) Complete(_ context.Context, id string, benchmarkID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status = ImportDone
	j.BenchmarkID = &benchmarkID
	return nil
}

func (r *memImportJobRepo) Fail(_ context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status = ImportFailed
	j.ErrorMessage = &message
	return nil
}

func (r *memImportJobRepo) status(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id].Status
}

const minimalImport = "benchmark:\n  name: MMLU\n  description: Massive multitask test\n  category: Natural Language Processing\nscores:\n  - {model: GPT-3, type: Transformer, score: 43.9}\n"

func TestImportServiceSubmit(t *testing.T) {
	mr, client := newTestRedis(t)
	jobs := newMemImportJobRepo()
	svc := NewImportService(jobs, NewRedisQueue(client, PendingImportsKey, ProcessingImportsKey), nil)
	ctx := context.Background()

	job, err := svc.Submit(ctx, 1, []byte(minimalImport))
	require.NoError(t, err)
	assert.Equal(t, ImportPending, job.Status)
	queued, err := mr.List(PendingImportsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, queued)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.CreatedBy)

	_, err = svc.Get(ctx, "not-a-uuid")
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.Submit(ctx, 1, []byte("benchmark: {name: x}"))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Len(t, jobs.jobs, 1)
}

func TestImportServiceSubmitQueueDown(t *testing.T) {
	mr, client := newTestRedis(t)
	jobs := newMemImportJobRepo()
	svc := NewImportService(jobs, NewRedisQueue(client, PendingImportsKey, ProcessingImportsKey), nil)
	mr.Close()

	_, err := svc.Submit(context.Background(), 1, []byte(minimalImport))
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Empty(t, jobs.jobs, "job row is removed when it cannot be queued")
}

func TestImportProcessorOutcomes(t *testing.T) {
	ctx := context.Background()
	jobs := newMemImportJobRepo()
	catalog := newMemCatalogRepo()
	metrics := NewMetrics()
	p := NewImportProcessor(jobs, catalog, metrics, nil)

	ok, _ := jobs.Create(ctx, 1, minimalImport)
	status, err := p.Process(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, ImportDone, status)
	assert.Equal(t, ImportDone, jobs.status(ok.ID))
	require.Len(t, catalog.applied, 1)
	assert.Equal(t, "MMLU", catalog.applied[0].Benchmark.Name)

	bad, _ := jobs.Create(ctx, 1, "benchmark: [")
	status, err = p.Process(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, ImportFailed, status)
	assert.Contains(t, *jobs.jobs[bad.ID].ErrorMessage, "invalid import document")

	_, err = p.Process(ctx, ok.ID)
	assert.ErrorIs(t, err, ErrImportNotPending)

	catalog.applyErr = errDatabaseUnavailable
	transient, _ := jobs.Create(ctx, 1, minimalImport)
	_, err = p.Process(ctx, transient.ID)
	assert.Equal(t, KindUnavailable, KindOf(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.importJobs.WithLabelValues(ImportDone)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.importJobs.WithLabelValues(ImportFailed)))
}

func newTestWorker(t *testing.T, catalog *memCatalogRepo) (*ImportWorker, *memImportJobRepo, *RedisQueue) {
	t.Helper()
	_, client := newTestRedis(t)
	jobs := newMemImportJobRepo()
	queue := NewRedisQueue(client, PendingImportsKey, ProcessingImportsKey)
	p := NewImportProcessor(jobs, catalog, nil, nil)
	w := NewImportWorker(queue, jobs, p, NewHeartbeatState("w1", 1, time.Second, nil), nil)
	return w, jobs, queue
}

func TestImportWorkerRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	catalog := newMemCatalogRepo()
	catalog.applyErr = errors.New("connection reset")
	w, jobs, queue := newTestWorker(t, catalog)
	w.MaxRetries = 2

	job, _ := jobs.Create(ctx, 1, minimalImport)
	require.NoError(t, queue.Enqueue(ctx, job.ID))

	for attempt := 1; attempt <= 3; attempt++ {
		id, err := queue.Reserve(ctx, time.Minute)
		require.NoError(t, err, "attempt %d", attempt)
		w.Handle(ctx, id, w.log)
	}

	assert.Equal(t, ImportFailed, jobs.status(job.ID))
	assert.Equal(t, 3, jobs.jobs[job.ID].RetryCount)
	_, err := queue.Reserve(ctx, time.Minute)
	assert.ErrorIs(t, err, redis.Nil, "failed job is not re-queued")

	hb := w.state.Snapshot()
	assert.Equal(t, int64(3), hb.ProcessedTotal)
	assert.Equal(t, int64(3), hb.FailedTotal)
	assert.Equal(t, "idle", hb.Status)
}

func TestImportWorkerReclaimsExpired(t *testing.T) {
	ctx := context.Background()
	w, jobs, queue := newTestWorker(t, newMemCatalogRepo())

	job, _ := jobs.Create(ctx, 1, minimalImport)
	require.NoError(t, queue.Enqueue(ctx, job.ID))
	_, err := queue.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, jobs.MarkStatus(ctx, job.ID, ImportRunning))

	assert.Equal(t, 0, w.Reclaim(ctx, time.Now()))
	assert.Equal(t, 1, w.Reclaim(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, ImportPending, jobs.status(job.ID))
	assert.Equal(t, 1, jobs.jobs[job.ID].RetryCount)

	id, err := queue.Reserve(ctx, time.Minute)
	require.NoError(t, err)
	w.Handle(ctx, id, w.log)
	assert.Equal(t, ImportDone, jobs.status(job.ID))
}

func TestImportWorkerFailsJobThatKeepsExpiring(t *testing.T) {
	ctx := context.Background()
	w, jobs, queue := newTestWorker(t, newMemCatalogRepo())
	w.MaxRetries = 2

	job, _ := jobs.Create(ctx, 1, minimalImport)
	require.NoError(t, queue.Enqueue(ctx, job.ID))

	for cycle := 1; cycle <= 3; cycle++ {
		id, err := queue.Reserve(ctx, time.Minute)
		require.NoError(t, err, "cycle %d", cycle)
		require.Equal(t, job.ID, id)
		require.NoError(t, jobs.MarkStatus(ctx, id, ImportRunning))
		require.Equal(t, 1, w.Reclaim(ctx, time.Now().Add(2*time.Minute)))
		if cycle < 3 {
			assert.Equal(t, ImportPending, jobs.status(job.ID), "cycle %d", cycle)
		}
	}

	assert.Equal(t, ImportFailed, jobs.status(job.ID))
	assert.Equal(t, 3, jobs.jobs[job.ID].RetryCount)
	assert.Contains(t, *jobs.jobs[job.ID].ErrorMessage, "visibility timeout")
	_, err := queue.Reserve(ctx, time.Minute)
	assert.ErrorIs(t, err, redis.Nil, "abandoned job is not requeued")
}

func TestImportWorkerRunDrainsQueue(t *testing.T) {
	catalog := newMemCatalogRepo()
	w, jobs, queue := newTestWorker(t, catalog)
	w.Concurrency = 2
	w.IdleWait = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ids []string
	for i := 0; i < 3; i++ {
		job, _ := jobs.Create(ctx, 1, minimalImport)
		require.NoError(t, queue.Enqueue(ctx, job.ID))
		ids = append(ids, job.ID)
	}

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		for _, id := range ids {
			if jobs.status(id) != ImportDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
