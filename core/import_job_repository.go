package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	ImportPending = "pending"
	ImportRunning = "running"
	ImportDone    = "done"
	ImportFailed  = "failed"
)

// ErrImportNotPending is returned when a worker tries to acquire a job another worker already took.
var ErrImportNotPending = &AppError{Kind: KindConflict, Message: "import job is not pending"}

// ImportJob is a queued benchmark import.
type ImportJob struct {
	ID           string    `json:"id"`
	CreatedBy    int64     `json:"createdBy"`
	Payload      string    `json:"-"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retryCount"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	BenchmarkID  *int64    `json:"benchmarkId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type ImportJobRepository interface {
	Create(ctx context.Context, createdBy int64, payload string) (*ImportJob, error)
	Get(ctx context.Context, id string) (*ImportJob, error)
	Delete(ctx context.Context, id string) error
	AcquirePending(ctx context.Context, id string) (*ImportJob, error)
	MarkStatus(ctx context.Context, id, status string) error
	IncrementRetry(ctx context.Context, id string) (int, error)
	Complete(ctx context.Context, id string, benchmarkID int64) error
	Fail(ctx context.Context, id, message string) error
}

// PgImportJobRepository implements ImportJobRepository using pgx.
type PgImportJobRepository struct {
	db TxStarter
}

func NewPgImportJobRepository(db TxStarter) *PgImportJobRepository {
	return &PgImportJobRepository{db: db}
}

func (r *PgImportJobRepository) Create(ctx context.Context, createdBy int64, payload string) (*ImportJob, error) {
	j := ImportJob{ID: uuid.NewString(), CreatedBy: createdBy, Payload: payload, Status: ImportPending}
	const q = `INSERT INTO import_jobs (id, created_by, payload, status) VALUES ($1, $2, $3, 'pending') RETURNING created_at, updated_at`
	if err := r.db.QueryRow(ctx, q, j.ID, createdBy, payload).Scan(&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, classifyStoreError(err, "import job")
	}
	return &j, nil
}

func (r *PgImportJobRepository) Get(ctx context.Context, id string) (*ImportJob, error) {
	const q = `SELECT id, created_by, payload, status, retry_count, error_message, benchmark_id, created_at, updated_at
FROM import_jobs WHERE id=$1`
	var j ImportJob
	err := r.db.QueryRow(ctx, q, id).Scan(&j.ID, &j.CreatedBy, &j.Payload, &j.Status, &j.RetryCount,
		&j.ErrorMessage, &j.BenchmarkID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, classifyStoreError(err, "import job")
	}
	return &j, nil
}

func (r *PgImportJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM import_jobs WHERE id=$1`, id)
	return classifyStoreError(err, "import job")
}

// AcquirePending locks a pending job and moves it to running atomically.
func (r *PgImportJobRepository) AcquirePending(ctx context.Context, id string) (*ImportJob, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError(err, "import job")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT id, created_by, payload, status, retry_count, created_at FROM import_jobs WHERE id=$1 FOR UPDATE`
	var j ImportJob
	if err := tx.QueryRow(ctx, sel, id).Scan(&j.ID, &j.CreatedBy, &j.Payload, &j.Status, &j.RetryCount, &j.CreatedAt); err != nil {
		return nil, classifyStoreError(err, "import job")
	}
	if j.Status != ImportPending {
		return nil, ErrImportNotPending
	}

	const upd = `UPDATE import_jobs SET status='running', updated_at=NOW() WHERE id=$1 RETURNING updated_at`
	if err := tx.QueryRow(ctx, upd, id).Scan(&j.UpdatedAt); err != nil {
		return nil, classifyStoreError(err, "import job")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classifyStoreError(err, "import job")
	}
	j.Status = ImportRunning
	return &j, nil
}

func (r *PgImportJobRepository) MarkStatus(ctx context.Context, id, status string) error {
	_, err := r.db.Exec(ctx, `UPDATE import_jobs SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	return classifyStoreError(err, "import job")
}

func (r *PgImportJobRepository) IncrementRetry(ctx context.Context, id string) (int, error) {
	const q = `UPDATE import_jobs SET retry_count = retry_count + 1, updated_at=NOW() WHERE id=$1 RETURNING retry_count`
	var n int
	if err := r.db.QueryRow(ctx, q, id).Scan(&n); err != nil {
		return 0, classifyStoreError(err, "import job")
	}
	return n, nil
}

func (r *PgImportJobRepository) Complete(ctx context.Context, id string, benchmarkID int64) error {
	const q = `UPDATE import_jobs SET status='done', benchmark_id=$2, error_message=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.Exec(ctx, q, id, benchmarkID)
	return classifyStoreError(err, "import job")
}

func (r *PgImportJobRepository) Fail(ctx context.Context, id, message string) error {
	const q = `UPDATE import_jobs SET status='failed', error_message=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.Exec(ctx, q, id, message)
	return classifyStoreError(err, "import job")
}
