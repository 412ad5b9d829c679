package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ImportWorker drains the import queue with a fixed number of goroutines and
// periodically requeues reservations whose visibility deadline has passed.
type ImportWorker struct {
	queue     JobQueue
	jobs      ImportJobRepository
	processor *ImportProcessor
	state     *HeartbeatState
	log       *zap.Logger

	Concurrency     int
	Visibility      time.Duration
	ReclaimInterval time.Duration
	IdleWait        time.Duration
	MaxRetries      int
}

func NewImportWorker(queue JobQueue, jobs ImportJobRepository, processor *ImportProcessor, state *HeartbeatState, log *zap.Logger) *ImportWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImportWorker{
		queue:           queue,
		jobs:            jobs,
		processor:       processor,
		state:           state,
		log:             log,
		Concurrency:     1,
		Visibility:      DefaultVisibilityTimeout,
		ReclaimInterval: 15 * time.Second,
		IdleWait:        100 * time.Millisecond,
		MaxRetries:      maxImportRetries,
	}
}

// Run blocks until ctx is cancelled and every loop has returned.
func (w *ImportWorker) Run(ctx context.Context) {
	n := w.Concurrency
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reclaimLoop(ctx)
	}()
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.loop(ctx, w.log.With(zap.Int("slot", slot)))
		}(i)
	}
	if w.state != nil {
		w.state.Ready()
	}
	wg.Wait()
}

func (w *ImportWorker) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Reclaim(ctx, time.Now())
		}
	}
}

// Reclaim puts expired reservations back on the queue and charges each one a
// retry. Jobs over MaxRetries are failed and dropped instead.
func (w *ImportWorker) Reclaim(ctx context.Context, now time.Time) int {
	jobs, err := w.queue.RequeueExpired(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("requeue expired failed", zap.Error(err))
		}
		return 0
	}
	for _, id := range jobs {
		retries, err := w.jobs.IncrementRetry(ctx, id)
		if err != nil {
			w.log.Warn("count reclaimed retry failed", zap.String("job_id", id), zap.Error(err))
		}
		if retries > w.MaxRetries {
			w.abandon(ctx, id, retries)
			continue
		}
		if err := w.jobs.MarkStatus(ctx, id, ImportPending); err != nil {
			w.log.Warn("reset reclaimed job failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	if len(jobs) > 0 {
		w.log.Info("requeued expired jobs", zap.Int("count", len(jobs)))
	}
	return len(jobs)
}

// abandon fails a job whose reservations kept expiring and takes it off the queue.
func (w *ImportWorker) abandon(ctx context.Context, id string, retries int) {
	cause := errors.New("visibility timeout exceeded")
	if err := w.processor.FailAfterRetries(ctx, id, cause); err != nil {
		w.log.Error("mark failed", zap.String("job_id", id), zap.Error(err))
	}
	if err := w.queue.Remove(ctx, id); err != nil {
		w.log.Warn("remove abandoned job failed", zap.String("job_id", id), zap.Error(err))
	}
	w.log.Error("job failed after retries", zap.String("job_id", id), zap.Int("retry_count", retries), zap.Error(cause))
}

func (w *ImportWorker) loop(ctx context.Context, log *zap.Logger) {
	for {
		job, err := w.queue.Reserve(ctx, w.Visibility)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.IdleWait):
					continue
				}
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("reserve failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.Handle(ctx, job, log)
	}
}

// Handle processes one reserved job, decides between retry and terminal
// failure, and acks the reservation.
func (w *ImportWorker) Handle(ctx context.Context, job string, log *zap.Logger) {
	if w.state != nil {
		w.state.JobStarted(job)
	}
	status, procErr := w.processor.Process(ctx, job)
	if procErr != nil {
		procErr = w.retryOrFail(ctx, job, procErr, log)
	} else {
		log.Info("job finished", zap.String("job_id", job), zap.String("status", status))
	}
	if err := w.queue.Ack(ctx, job); err != nil {
		log.Warn("ack failed", zap.String("job_id", job), zap.Error(err))
	}
	if w.state != nil {
		w.state.JobFinished(job, procErr)
	}
}

// retryOrFail returns the error to report on the heartbeat, nil when the job
// needed no further handling.
func (w *ImportWorker) retryOrFail(ctx context.Context, job string, procErr error, log *zap.Logger) error {
	if errors.Is(procErr, ErrImportNotPending) || KindOf(procErr) == KindNotFound {
		log.Info("skip job", zap.String("job_id", job), zap.Error(procErr))
		return nil
	}

	retries, err := w.jobs.IncrementRetry(ctx, job)
	if err != nil {
		log.Warn("increment retry failed", zap.String("job_id", job), zap.Error(err))
	}
	if retries <= w.MaxRetries {
		if err := w.jobs.MarkStatus(ctx, job, ImportPending); err != nil {
			log.Warn("reset job status failed", zap.String("job_id", job), zap.Error(err))
		}
		if err := w.queue.Enqueue(ctx, job); err != nil {
			log.Error("re-enqueue failed", zap.String("job_id", job), zap.Error(err))
		} else {
			log.Warn("job retried", zap.String("job_id", job), zap.Int("retry_count", retries), zap.Error(procErr))
		}
		return procErr
	}

	if err := w.processor.FailAfterRetries(ctx, job, procErr); err != nil {
		log.Error("mark failed", zap.String("job_id", job), zap.Error(err))
	}
	log.Error("job failed after retries", zap.String("job_id", job), zap.Int("retry_count", retries), zap.Error(procErr))
	return procErr
}
