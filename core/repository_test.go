package core

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestPgUserRepositoryFindByEmail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgUserRepository(mock)
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email=$1`)).
		WithArgs("alice@example.com").
		WillReturnRows(mock.NewRows([]string{"id", "email", "password_hash", "name", "role", "created_at"}).
			AddRow(int64(7), "alice@example.com", "$2a$hash", "Alice", RoleUser, created))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email=$1`)).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	u, err := repo.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, "$2a$hash", u.PasswordHash)
	assert.Equal(t, created, u.CreatedAt)

	_, err = repo.FindByEmail(context.Background(), "nobody@example.com")
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestPgUserRepositoryCreateDuplicate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgUserRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (email, password_hash, name, role)`)).
		WithArgs("alice@example.com", "hash", "Alice", RoleUser).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := repo.Create(context.Background(), "alice@example.com", "hash", "Alice", RoleUser)
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestPgUserRepositoryHasAdmin(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgUserRepository(mock)
	const q = `SELECT 1 FROM users WHERE role='admin' LIMIT 1`

	mock.ExpectQuery(regexp.QuoteMeta(q)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(q)).WillReturnRows(mock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(q)).WillReturnError(errors.New("boom"))

	ok, err := repo.HasAdmin(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.HasAdmin(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.HasAdmin(context.Background())
	assert.Error(t, err)
}

func TestPgUserRepositoryList(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgUserRepository(mock)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users`)).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users ORDER BY id LIMIT $1 OFFSET $2`)).
		WithArgs(2, 2).
		WillReturnRows(mock.NewRows([]string{"id", "email", "name", "role", "created_at"}).
			AddRow(int64(3), "c@example.com", "C", RoleAdmin, now))

	items, total, err := repo.List(context.Background(), 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)
	assert.Equal(t, RoleAdmin, items[0].Role)

	_, _, err = repo.List(context.Background(), 0, 2)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPgCatalogRepositoryUpdateBenchmark(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgCatalogRepository(mock)
	name := " SuperGLUE "
	baseline := 89.8

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE benchmarks SET name=$1, human_baseline=$2, updated_at=NOW() WHERE id=$3`)).
		WithArgs("SuperGLUE", baseline, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE benchmarks SET name=$1, human_baseline=$2, updated_at=NOW() WHERE id=$3`)).
		WithArgs("SuperGLUE", baseline, int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	in := BenchmarkUpdateInput{Name: &name, HumanBaseline: &baseline}
	require.NoError(t, repo.UpdateBenchmark(context.Background(), 7, in))

	err := repo.UpdateBenchmark(context.Background(), 8, in)
	assert.Equal(t, KindNotFound, KindOf(err))

	err = repo.UpdateBenchmark(context.Background(), 7, BenchmarkUpdateInput{})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPgCatalogRepositoryCreateCategoryConflict(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgCatalogRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO categories (name) VALUES ($1)`)).
		WithArgs("Vision").
		WillReturnRows(mock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO categories (name) VALUES ($1)`)).
		WithArgs("Vision").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	c, err := repo.CreateCategory(context.Background(), " Vision")
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.ID)
	assert.NotNil(t, c.Benchmarks)

	_, err = repo.CreateCategory(context.Background(), "Vision")
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestPgImportJobRepositoryAcquirePending(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgImportJobRepository(mock)
	cols := []string{"id", "created_by", "payload", "status", "retry_count", "created_at"}
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM import_jobs WHERE id=$1 FOR UPDATE`)).
		WithArgs("job-1").
		WillReturnRows(mock.NewRows(cols).AddRow("job-1", int64(1), "benchmark: {}", ImportPending, 0, now))
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE import_jobs SET status='running'`)).
		WithArgs("job-1").
		WillReturnRows(mock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM import_jobs WHERE id=$1 FOR UPDATE`)).
		WithArgs("job-2").
		WillReturnRows(mock.NewRows(cols).AddRow("job-2", int64(1), "", ImportRunning, 0, now))
	mock.ExpectRollback()

	j, err := repo.AcquirePending(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, ImportRunning, j.Status)
	assert.Equal(t, "benchmark: {}", j.Payload)

	_, err = repo.AcquirePending(context.Background(), "job-2")
	assert.ErrorIs(t, err, ErrImportNotPending)
}

func TestPgCatalogRepositoryApplyImportReportsScoredBenchmarks(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgCatalogRepository(mock)
	doc, err := ParseBenchmarkImport([]byte(minimalImport))
	require.NoError(t, err)
	id := func(v int64) *pgxmock.Rows { return mock.NewRows([]string{"id"}).AddRow(v) }

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT category_id FROM benchmarks WHERE name=$1 FOR UPDATE`)).
		WithArgs("MMLU").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO categories (name)`)).
		WithArgs("Natural Language Processing").
		WillReturnRows(id(1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO benchmarks (name, description, category_id`)).
		WillReturnRows(id(3))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO model_types (name)`)).
		WithArgs("Transformer").
		WillReturnRows(id(1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO models (name, type_id)`)).
		WithArgs("GPT-3", int64(1)).
		WillReturnRows(id(1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO scores (benchmark_id, model_id, score)`)).
		WithArgs(int64(3), int64(1), 43.9).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT benchmark_id FROM scores WHERE model_id = ANY($1) AND benchmark_id <> $2`)).
		WithArgs([]int64{1}, int64(3)).
		WillReturnRows(mock.NewRows([]string{"benchmark_id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectCommit()

	out, err := repo.ApplyImport(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Equal(t, int64(3), out.BenchmarkID)
	assert.Equal(t, []int64{1}, out.ModelIDs)
	assert.Equal(t, []int64{1, 2}, out.ScoredBenchmarkIDs)
}
