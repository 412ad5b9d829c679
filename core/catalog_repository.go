package core

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// CatalogRepository is the benchmark catalog store.
type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (*Category, error)
	CreateCategory(ctx context.Context, name string) (*Category, error)

	ListModelTypes(ctx context.Context) ([]ModelType, error)
	CreateModelType(ctx context.Context, name string) (*ModelType, error)

	ListModels(ctx context.Context) ([]Model, error)
	GetModel(ctx context.Context, id int64) (*Model, error)
	CreateModel(ctx context.Context, in ModelInput) (*Model, error)

	ListBenchmarks(ctx context.Context) ([]Benchmark, error)
	GetBenchmark(ctx context.Context, id int64) (*Benchmark, error)
	CreateBenchmark(ctx context.Context, in BenchmarkInput) (*Benchmark, error)
	UpdateBenchmark(ctx context.Context, id int64, in BenchmarkUpdateInput) error

	UpsertScore(ctx context.Context, in ScoreInput) (*Score, error)
	Search(ctx context.Context, q string) (SearchResult, error)
	ApplyImport(ctx context.Context, doc BenchmarkImport) (ImportOutcome, error)
}

// ImportOutcome lists what an applied import touched, for cache invalidation.
type ImportOutcome struct {
	BenchmarkID int64
	CategoryIDs []int64
	ModelIDs    []int64
	// ScoredBenchmarkIDs are other benchmarks scoring any touched model; their
	// detail views embed the model and its type.
	ScoredBenchmarkIDs []int64
	Created            bool
}

// PgCatalogRepository implements CatalogRepository using pgx.
type PgCatalogRepository struct {
	db TxStarter
}

func NewPgCatalogRepository(db TxStarter) *PgCatalogRepository {
	return &PgCatalogRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const benchmarkColumns = `b.id, b.name, b.description, b.category_id, b.link_to_paper, b.methodology_overview, b.human_baseline, b.created_at, b.updated_at`

func scanBenchmarkSummary(row rowScanner, extra ...any) (BenchmarkSummary, error) {
	var b BenchmarkSummary
	dest := append([]any{&b.ID, &b.Name, &b.Description, &b.CategoryID, &b.LinkToPaper, &b.MethodologyOverview, &b.HumanBaseline, &b.CreatedAt, &b.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	return b, err
}

// likePattern builds a case-insensitive substring pattern with LIKE metacharacters escaped.
func likePattern(q string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q) + "%"
}

// ---- categories ----

func (r *PgCatalogRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY id`)
	if err != nil {
		return nil, classifyStoreError(err, "category")
	}
	defer rows.Close()
	out := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, classifyStoreError(err, "category")
		}
		c.Benchmarks = []BenchmarkSummary{}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "category")
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	idx := make(map[int64]int, len(out))
	for i, c := range out {
		ids[i] = c.ID
		idx[c.ID] = i
	}
	byCategory, err := r.benchmarksByCategory(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, list := range byCategory {
		out[idx[id]].Benchmarks = list
	}
	return out, nil
}

func (r *PgCatalogRepository) GetCategory(ctx context.Context, id int64) (*Category, error) {
	var c Category
	err := r.db.QueryRow(ctx, `SELECT id, name, created_at FROM categories WHERE id=$1`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, classifyStoreError(err, "category")
	}
	byCategory, err := r.benchmarksByCategory(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	c.Benchmarks = byCategory[id]
	if c.Benchmarks == nil {
		c.Benchmarks = []BenchmarkSummary{}
	}
	return &c, nil
}

func (r *PgCatalogRepository) benchmarksByCategory(ctx context.Context, ids []int64) (map[int64][]BenchmarkSummary, error) {
	q := `SELECT ` + benchmarkColumns + ` FROM benchmarks b WHERE b.category_id = ANY($1) ORDER BY b.id`
	rows, err := r.db.Query(ctx, q, ids)
	if err != nil {
		return nil, classifyStoreError(err, "benchmark")
	}
	defer rows.Close()
	out := make(map[int64][]BenchmarkSummary)
	for rows.Next() {
		b, err := scanBenchmarkSummary(rows)
		if err != nil {
			return nil, classifyStoreError(err, "benchmark")
		}
		out[b.CategoryID] = append(out[b.CategoryID], b)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "benchmark")
	}
	return out, nil
}

func (r *PgCatalogRepository) CreateCategory(ctx context.Context, name string) (*Category, error) {
	c := Category{Name: strings.TrimSpace(name), Benchmarks: []BenchmarkSummary{}}
	const q = `INSERT INTO categories (name) VALUES ($1) RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, q, c.Name).Scan(&c.ID, &c.CreatedAt); err != nil {
		return nil, classifyStoreError(err, "category")
	}
	return &c, nil
}

// ---- model types ----

func (r *PgCatalogRepository) ListModelTypes(ctx context.Context) ([]ModelType, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at FROM model_types ORDER BY id`)
	if err != nil {
		return nil, classifyStoreError(err, "model type")
	}
	defer rows.Close()
	out := []ModelType{}
	for rows.Next() {
		var t ModelType
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, classifyStoreError(err, "model type")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "model type")
	}
	return out, nil
}

func (r *PgCatalogRepository) CreateModelType(ctx context.Context, name string) (*ModelType, error) {
	t := ModelType{Name: strings.TrimSpace(name)}
	const q = `INSERT INTO model_types (name) VALUES ($1) RETURNING id, created_at`
	if err := r.db.QueryRow(ctx, q, t.Name).Scan(&t.ID, &t.CreatedAt); err != nil {
		return nil, classifyStoreError(err, "model type")
	}
	return &t, nil
}

// ---- models ----

const modelSelect = `SELECT m.id, m.name, m.type_id, m.created_at, t.id, t.name, t.created_at
FROM models m JOIN model_types t ON t.id = m.type_id`

func (r *PgCatalogRepository) queryModels(ctx context.Context, where string, args ...any) ([]Model, error) {
	rows, err := r.db.Query(ctx, modelSelect+" "+where+" ORDER BY m.id", args...)
	if err != nil {
		return nil, classifyStoreError(err, "model")
	}
	defer rows.Close()
	out := []Model{}
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Name, &m.TypeID, &m.CreatedAt, &m.Type.ID, &m.Type.Name, &m.Type.CreatedAt); err != nil {
			return nil, classifyStoreError(err, "model")
		}
		m.Scores = []ModelScore{}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "model")
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	idx := make(map[int64]int, len(out))
	for i, m := range out {
		ids[i] = m.ID
		idx[m.ID] = i
	}
	q := `SELECT s.id, s.model_id, s.score, ` + benchmarkColumns + `
FROM scores s JOIN benchmarks b ON b.id = s.benchmark_id
WHERE s.model_id = ANY($1) ORDER BY b.name, s.id`
	srows, err := r.db.Query(ctx, q, ids)
	if err != nil {
		return nil, classifyStoreError(err, "score")
	}
	defer srows.Close()
	for srows.Next() {
		var (
			s       ModelScore
			modelID int64
		)
		b, err := scanBenchmarkSummaryAfter(srows, &s.ID, &modelID, &s.Score)
		if err != nil {
			return nil, classifyStoreError(err, "score")
		}
		s.Benchmark = b
		i := idx[modelID]
		out[i].Scores = append(out[i].Scores, s)
	}
	if err := srows.Err(); err != nil {
		return nil, classifyStoreError(err, "score")
	}
	return out, nil
}

// scanBenchmarkSummaryAfter scans leading columns into head, then the benchmark columns.
func scanBenchmarkSummaryAfter(row rowScanner, head ...any) (BenchmarkSummary, error) {
	var b BenchmarkSummary
	dest := append(head, &b.ID, &b.Name, &b.Description, &b.CategoryID, &b.LinkToPaper, &b.MethodologyOverview, &b.HumanBaseline, &b.CreatedAt, &b.UpdatedAt)
	err := row.Scan(dest...)
	return b, err
}

func (r *PgCatalogRepository) ListModels(ctx context.Context) ([]Model, error) {
	return r.queryModels(ctx, "")
}

func (r *PgCatalogRepository) GetModel(ctx context.Context, id int64) (*Model, error) {
	list, err := r.queryModels(ctx, "WHERE m.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFoundError("model")
	}
	return &list[0], nil
}

func (r *PgCatalogRepository) CreateModel(ctx context.Context, in ModelInput) (*Model, error) {
	const q = `INSERT INTO models (name, type_id) VALUES ($1, $2) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, strings.TrimSpace(in.Name), in.TypeID).Scan(&id); err != nil {
		return nil, classifyStoreError(err, "model")
	}
	return r.GetModel(ctx, id)
}

// ---- benchmarks ----

const benchmarkSelect = `SELECT ` + benchmarkColumns + `, c.id, c.name
FROM benchmarks b JOIN categories c ON c.id = b.category_id`

func (r *PgCatalogRepository) queryBenchmarks(ctx context.Context, where string, args ...any) ([]Benchmark, error) {
	rows, err := r.db.Query(ctx, benchmarkSelect+" "+where+" ORDER BY b.id", args...)
	if err != nil {
		return nil, classifyStoreError(err, "benchmark")
	}
	defer rows.Close()
	out := []Benchmark{}
	for rows.Next() {
		var bm Benchmark
		sum, err := scanBenchmarkSummary(rows, &bm.Category.ID, &bm.Category.Name)
		if err != nil {
			return nil, classifyStoreError(err, "benchmark")
		}
		bm.BenchmarkSummary = sum
		bm.Scores = []BenchmarkScore{}
		out = append(out, bm)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err, "benchmark")
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	idx := make(map[int64]int, len(out))
	for i, b := range out {
		ids[i] = b.ID
		idx[b.ID] = i
	}
	const q = `SELECT s.id, s.benchmark_id, s.score, m.id, m.name, m.type_id, t.id, t.name, t.created_at
FROM scores s
JOIN models m ON m.id = s.model_id
JOIN model_types t ON t.id = m.type_id
WHERE s.benchmark_id = ANY($1)
ORDER BY s.score DESC, s.id`
	srows, err := r.db.Query(ctx, q, ids)
	if err != nil {
		return nil, classifyStoreError(err, "score")
	}
	defer srows.Close()
	for srows.Next() {
		var (
			s           BenchmarkScore
			benchmarkID int64
		)
		if err := srows.Scan(&s.ID, &benchmarkID, &s.Score,
			&s.Model.ID, &s.Model.Name, &s.Model.TypeID,
			&s.Model.Type.ID, &s.Model.Type.Name, &s.Model.Type.CreatedAt); err != nil {
			return nil, classifyStoreError(err, "score")
		}
		i := idx[benchmarkID]
		out[i].Scores = append(out[i].Scores, s)
	}
	if err := srows.Err(); err != nil {
		return nil, classifyStoreError(err, "score")
	}
	return out, nil
}

func (r *PgCatalogRepository) ListBenchmarks(ctx context.Context) ([]Benchmark, error) {
	return r.queryBenchmarks(ctx, "")
}

func (r *PgCatalogRepository) GetBenchmark(ctx context.Context, id int64) (*Benchmark, error) {
	list, err := r.queryBenchmarks(ctx, "WHERE b.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, notFoundError("benchmark")
	}
	return &list[0], nil
}

func (r *PgCatalogRepository) CreateBenchmark(ctx context.Context, in BenchmarkInput) (*Benchmark, error) {
	const q = `INSERT INTO benchmarks (name, description, category_id, link_to_paper, methodology_overview, human_baseline)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := r.db.QueryRow(ctx, q, strings.TrimSpace(in.Name), in.Description, in.CategoryID,
		in.LinkToPaper, in.MethodologyOverview, in.HumanBaseline).Scan(&id)
	if err != nil {
		return nil, classifyStoreError(err, "benchmark")
	}
	return r.GetBenchmark(ctx, id)
}

// UpdateBenchmark applies the non-nil fields of in and bumps updated_at.
func (r *PgCatalogRepository) UpdateBenchmark(ctx context.Context, id int64, in BenchmarkUpdateInput) error {
	var sets []string
	var args []any
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, column+"=$"+strconv.Itoa(len(args)))
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return validationError("name must not be empty")
		}
		add("name", name)
	}
	if in.Description != nil {
		add("description", *in.Description)
	}
	if in.CategoryID != nil {
		add("category_id", *in.CategoryID)
	}
	if in.LinkToPaper != nil {
		add("link_to_paper", *in.LinkToPaper)
	}
	if in.MethodologyOverview != nil {
		add("methodology_overview", *in.MethodologyOverview)
	}
	if in.HumanBaseline != nil {
		add("human_baseline", *in.HumanBaseline)
	}
	if len(sets) == 0 {
		return validationError("no fields to update")
	}

	args = append(args, id)
	q := "UPDATE benchmarks SET " + strings.Join(sets, ", ") + ", updated_at=NOW() WHERE id=$" + strconv.Itoa(len(args))
	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return classifyStoreError(err, "benchmark")
	}
	if tag.RowsAffected() == 0 {
		return notFoundError("benchmark")
	}
	return nil
}

// ---- scores ----

// UpsertScore records a model's score on a benchmark, replacing any previous value.
func (r *PgCatalogRepository) UpsertScore(ctx context.Context, in ScoreInput) (*Score, error) {
	const q = `INSERT INTO scores (benchmark_id, model_id, score) VALUES ($1, $2, $3)
ON CONFLICT (benchmark_id, model_id) DO UPDATE SET score = EXCLUDED.score
RETURNING id, created_at`
	s := Score{BenchmarkID: in.BenchmarkID, ModelID: in.ModelID, Score: *in.Score}
	if err := r.db.QueryRow(ctx, q, in.BenchmarkID, in.ModelID, *in.Score).Scan(&s.ID, &s.CreatedAt); err != nil {
		return nil, classifyStoreError(err, "score")
	}
	return &s, nil
}

// ---- search ----

// Search matches benchmarks on name, description or methodology and models on
// name, case-insensitively.
func (r *PgCatalogRepository) Search(ctx context.Context, q string) (SearchResult, error) {
	pattern := likePattern(q)
	benchmarks, err := r.queryBenchmarks(ctx,
		"WHERE b.name ILIKE $1 OR b.description ILIKE $1 OR b.methodology_overview ILIKE $1", pattern)
	if err != nil {
		return SearchResult{}, err
	}
	models, err := r.queryModels(ctx, "WHERE m.name ILIKE $1", pattern)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Benchmarks: benchmarks, Models: models}, nil
}

// ---- import ----

// ApplyImport upserts one benchmark document in a single transaction: its
// category, the model types and models it scores, the benchmark row and the
// scores. Re-applying the same document is a no-op apart from updated_at.
func (r *PgCatalogRepository) ApplyImport(ctx context.Context, doc BenchmarkImport) (ImportOutcome, error) {
	var out ImportOutcome

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return out, classifyStoreError(err, "import")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var previousCategory int64
	err = tx.QueryRow(ctx, `SELECT category_id FROM benchmarks WHERE name=$1 FOR UPDATE`, doc.Benchmark.Name).Scan(&previousCategory)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		out.Created = true
	default:
		return out, classifyStoreError(err, "benchmark")
	}

	categoryID, err := upsertNamed(ctx, tx, "categories", doc.Benchmark.Category)
	if err != nil {
		return out, err
	}
	out.CategoryIDs = append(out.CategoryIDs, categoryID)
	if previousCategory != 0 && previousCategory != categoryID {
		out.CategoryIDs = append(out.CategoryIDs, previousCategory)
	}

	const upsertBenchmark = `INSERT INTO benchmarks (name, description, category_id, link_to_paper, methodology_overview, human_baseline)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (name) DO UPDATE SET
  description = EXCLUDED.description,
  category_id = EXCLUDED.category_id,
  link_to_paper = EXCLUDED.link_to_paper,
  methodology_overview = EXCLUDED.methodology_overview,
  human_baseline = EXCLUDED.human_baseline,
  updated_at = NOW()
RETURNING id`
	b := doc.Benchmark
	if err := tx.QueryRow(ctx, upsertBenchmark, b.Name, b.Description, categoryID,
		b.LinkToPaper, b.MethodologyOverview, b.HumanBaseline).Scan(&out.BenchmarkID); err != nil {
		return out, classifyStoreError(err, "benchmark")
	}

	typeIDs := make(map[string]int64)
	for _, s := range doc.Scores {
		typeID, ok := typeIDs[s.Type]
		if !ok {
			typeID, err = upsertNamed(ctx, tx, "model_types", s.Type)
			if err != nil {
				return out, err
			}
			typeIDs[s.Type] = typeID
		}

		var modelID int64
		const upsertModel = `INSERT INTO models (name, type_id) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET type_id = EXCLUDED.type_id
RETURNING id`
		if err := tx.QueryRow(ctx, upsertModel, s.Model, typeID).Scan(&modelID); err != nil {
			return out, classifyStoreError(err, "model")
		}
		out.ModelIDs = append(out.ModelIDs, modelID)

		const upsertScore = `INSERT INTO scores (benchmark_id, model_id, score) VALUES ($1, $2, $3)
ON CONFLICT (benchmark_id, model_id) DO UPDATE SET score = EXCLUDED.score`
		if _, err := tx.Exec(ctx, upsertScore, out.BenchmarkID, modelID, s.Score); err != nil {
			return out, classifyStoreError(err, "score")
		}
	}

	if len(out.ModelIDs) > 0 {
		const scored = `SELECT DISTINCT benchmark_id FROM scores WHERE model_id = ANY($1) AND benchmark_id <> $2`
		rows, err := tx.Query(ctx, scored, out.ModelIDs, out.BenchmarkID)
		if err != nil {
			return out, classifyStoreError(err, "score")
		}
		out.ScoredBenchmarkIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return out, classifyStoreError(err, "score")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return out, classifyStoreError(err, "import")
	}
	return out, nil
}

// upsertNamed returns the id of the row called name in table, creating it if needed.
// table is always a package constant.
func upsertNamed(ctx context.Context, tx pgx.Tx, table, name string) (int64, error) {
	q := `INSERT INTO ` + table + ` (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`
	var id int64
	if err := tx.QueryRow(ctx, q, name).Scan(&id); err != nil {
		return 0, classifyStoreError(err, strings.TrimSuffix(table, "s"))
	}
	return id, nil
}
