package core

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ImportService accepts import documents from the API and hands them to the worker queue.
type ImportService struct {
	jobs  ImportJobRepository
	queue JobQueue
	log   *zap.Logger
}

func NewImportService(jobs ImportJobRepository, queue JobQueue, log *zap.Logger) *ImportService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImportService{jobs: jobs, queue: queue, log: log}
}

// Submit validates payload, stores a pending job and enqueues it. If the
// queue is unreachable the job row is removed again and the caller gets 503.
func (s *ImportService) Submit(ctx context.Context, userID int64, payload []byte) (*ImportJob, error) {
	if _, err := ParseBenchmarkImport(payload); err != nil {
		return nil, err
	}
	job, err := s.jobs.Create(ctx, userID, string(payload))
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		if delErr := s.jobs.Delete(ctx, job.ID); delErr != nil {
			s.log.Error("orphaned import job", zap.String("job_id", job.ID), zap.Error(delErr))
		}
		return nil, unavailable(err)
	}
	s.log.Info("import job queued", zap.String("job_id", job.ID), zap.Int64("user_id", userID))
	return job, nil
}

func (s *ImportService) Get(ctx context.Context, id string) (*ImportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFoundError("import job")
	}
	return s.jobs.Get(ctx, id)
}
