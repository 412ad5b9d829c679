package core

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ImportApplier writes a parsed import document to the catalog.
type ImportApplier interface {
	ApplyImport(ctx context.Context, doc BenchmarkImport) (ImportOutcome, error)
}

// ImportProcessor runs one queued import job.
type ImportProcessor struct {
	jobs    ImportJobRepository
	catalog ImportApplier
	metrics *Metrics
	log     *zap.Logger
}

func NewImportProcessor(jobs ImportJobRepository, catalog ImportApplier, metrics *Metrics, log *zap.Logger) *ImportProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImportProcessor{jobs: jobs, catalog: catalog, metrics: metrics, log: log}
}

// Process acquires jobID, applies its document and records the outcome.
// It returns the final status and a non-nil error only when the job should be
// retried. Documents that can never succeed are marked failed without retry.
func (p *ImportProcessor) Process(ctx context.Context, jobID string) (string, error) {
	job, err := p.jobs.AcquirePending(ctx, jobID)
	if err != nil {
		return "", err
	}

	doc, err := ParseBenchmarkImport([]byte(job.Payload))
	if err != nil {
		return p.fail(ctx, job.ID, err)
	}

	out, err := p.catalog.ApplyImport(ctx, doc)
	if err != nil {
		switch KindOf(err) {
		case KindValidation, KindConflict:
			return p.fail(ctx, job.ID, err)
		}
		return "", err
	}

	if err := p.jobs.Complete(ctx, job.ID, out.BenchmarkID); err != nil {
		return "", err
	}
	p.metrics.ImportJob(ImportDone)
	p.log.Info("import job done", zap.String("job_id", job.ID), zap.Int64("benchmark_id", out.BenchmarkID))
	return ImportDone, nil
}

func (p *ImportProcessor) fail(ctx context.Context, jobID string, cause error) (string, error) {
	msg := cause.Error()
	var appErr *AppError
	if errors.As(cause, &appErr) && appErr.Kind != KindInternal {
		msg = appErr.Message
	}
	if err := p.jobs.Fail(ctx, jobID, msg); err != nil {
		return "", err
	}
	p.metrics.ImportJob(ImportFailed)
	p.log.Warn("import job rejected", zap.String("job_id", jobID), zap.String("reason", msg))
	return ImportFailed, nil
}

// FailAfterRetries marks a job failed once its retry budget is spent.
func (p *ImportProcessor) FailAfterRetries(ctx context.Context, jobID string, cause error) error {
	if err := p.jobs.Fail(ctx, jobID, "gave up after retries: "+cause.Error()); err != nil {
		return err
	}
	p.metrics.ImportJob(ImportFailed)
	return nil
}
