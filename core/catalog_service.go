package core

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const maxSearchQueryLen = 200

// CatalogService serves catalog reads through the cache and invalidates the
// affected keys after every write.
type CatalogService struct {
	repo  CatalogRepository
	cache *Cache
	log   *zap.Logger
}

func NewCatalogService(repo CatalogRepository, cache *Cache, log *zap.Logger) *CatalogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogService{repo: repo, cache: cache, log: log}
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]Category, error) {
	return Fetch(ctx, s.cache, "category", keyCategoriesAll, s.repo.ListCategories)
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*Category, error) {
	return Fetch(ctx, s.cache, "category", categoryCacheKey(id), func(ctx context.Context) (*Category, error) {
		return s.repo.GetCategory(ctx, id)
	})
}

func (s *CatalogService) CreateCategory(ctx context.Context, in CategoryInput) (*Category, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationError("name is required")
	}
	c, err := s.repo.CreateCategory(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, keyCategoriesAll)
	return c, nil
}

func (s *CatalogService) ListModelTypes(ctx context.Context) ([]ModelType, error) {
	return Fetch(ctx, s.cache, "model_type", keyModelTypesAll, s.repo.ListModelTypes)
}

func (s *CatalogService) CreateModelType(ctx context.Context, in ModelTypeInput) (*ModelType, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationError("name is required")
	}
	t, err := s.repo.CreateModelType(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, keyModelTypesAll)
	return t, nil
}

func (s *CatalogService) ListModels(ctx context.Context) ([]Model, error) {
	return Fetch(ctx, s.cache, "model", keyModelsAll, s.repo.ListModels)
}

func (s *CatalogService) GetModel(ctx context.Context, id int64) (*Model, error) {
	return Fetch(ctx, s.cache, "model", modelCacheKey(id), func(ctx context.Context) (*Model, error) {
		return s.repo.GetModel(ctx, id)
	})
}

func (s *CatalogService) CreateModel(ctx context.Context, in ModelInput) (*Model, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationError("name is required")
	}
	m, err := s.repo.CreateModel(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, keyModelsAll)
	return m, nil
}

func (s *CatalogService) ListBenchmarks(ctx context.Context) ([]Benchmark, error) {
	return Fetch(ctx, s.cache, "benchmark", keyBenchmarksAll, s.repo.ListBenchmarks)
}

func (s *CatalogService) GetBenchmark(ctx context.Context, id int64) (*Benchmark, error) {
	return Fetch(ctx, s.cache, "benchmark", benchmarkCacheKey(id), func(ctx context.Context) (*Benchmark, error) {
		return s.repo.GetBenchmark(ctx, id)
	})
}

func (s *CatalogService) CreateBenchmark(ctx context.Context, in BenchmarkInput) (*Benchmark, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, validationError("name is required")
	}
	if in.HumanBaseline != nil && !isFinite(*in.HumanBaseline) {
		return nil, validationError("humanBaseline must be a finite number")
	}
	b, err := s.repo.CreateBenchmark(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, keyBenchmarksAll, keyCategoriesAll, categoryCacheKey(b.CategoryID))
	return b, nil
}

// UpdateBenchmark applies a partial update. Both the old and the new category
// entries are invalidated when the benchmark moves.
func (s *CatalogService) UpdateBenchmark(ctx context.Context, id int64, in BenchmarkUpdateInput) (*Benchmark, error) {
	if in.empty() {
		return nil, validationError("no fields to update")
	}
	if in.HumanBaseline != nil && !isFinite(*in.HumanBaseline) {
		return nil, validationError("humanBaseline must be a finite number")
	}
	before, err := s.repo.GetBenchmark(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBenchmark(ctx, id, in); err != nil {
		return nil, err
	}

	keys := []string{benchmarkCacheKey(id), keyBenchmarksAll, keyCategoriesAll, keyModelsAll, categoryCacheKey(before.CategoryID)}
	if in.CategoryID != nil && *in.CategoryID != before.CategoryID {
		keys = append(keys, categoryCacheKey(*in.CategoryID))
	}
	for _, sc := range before.Scores {
		keys = append(keys, modelCacheKey(sc.Model.ID))
	}
	s.cache.Invalidate(ctx, keys...)

	return s.repo.GetBenchmark(ctx, id)
}

func (s *CatalogService) UpsertScore(ctx context.Context, in ScoreInput) (*Score, error) {
	if in.Score == nil || !isFinite(*in.Score) {
		return nil, validationError("score must be a finite number")
	}
	sc, err := s.repo.UpsertScore(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx,
		benchmarkCacheKey(in.BenchmarkID), modelCacheKey(in.ModelID),
		keyBenchmarksAll, keyModelsAll)
	return sc, nil
}

// Search is not cached: the key space is unbounded.
func (s *CatalogService) Search(ctx context.Context, q string) (SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return SearchResult{}, validationError("search query is required")
	}
	if len(q) > maxSearchQueryLen {
		return SearchResult{}, validationError("search query must be at most %d characters", maxSearchQueryLen)
	}
	return s.repo.Search(ctx, q)
}

// ApplyImport writes an import document and drops every cache entry it may have changed.
func (s *CatalogService) ApplyImport(ctx context.Context, doc BenchmarkImport) (ImportOutcome, error) {
	out, err := s.repo.ApplyImport(ctx, doc)
	if err != nil {
		return out, err
	}
	keys := []string{keyBenchmarksAll, keyCategoriesAll, keyModelsAll, keyModelTypesAll, benchmarkCacheKey(out.BenchmarkID)}
	for _, id := range out.CategoryIDs {
		keys = append(keys, categoryCacheKey(id))
	}
	for _, id := range out.ModelIDs {
		keys = append(keys, modelCacheKey(id))
	}
	for _, id := range out.ScoredBenchmarkIDs {
		keys = append(keys, benchmarkCacheKey(id))
	}
	s.cache.Invalidate(ctx, keys...)
	s.log.Info("benchmark import applied",
		zap.Int64("benchmark_id", out.BenchmarkID),
		zap.Bool("created", out.Created),
		zap.Int("scores", len(doc.Scores)))
	return out, nil
}
