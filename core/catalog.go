package core

import "time"

// CategoryRef is the short form of a category embedded in benchmarks.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Category struct {
	ID         int64              `json:"id"`
	Name       string             `json:"name"`
	CreatedAt  time.Time          `json:"createdAt"`
	Benchmarks []BenchmarkSummary `json:"benchmarks"`
}

type ModelType struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ModelSummary is a model as it appears under a benchmark's scores.
type ModelSummary struct {
	ID     int64     `json:"id"`
	Name   string    `json:"name"`
	TypeID int64     `json:"typeId"`
	Type   ModelType `json:"type"`
}

// BenchmarkSummary carries the benchmark's own columns without relations.
type BenchmarkSummary struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	CategoryID          int64     `json:"categoryId"`
	LinkToPaper         *string   `json:"linkToPaper"`
	MethodologyOverview *string   `json:"methodologyOverview"`
	HumanBaseline       *float64  `json:"humanBaseline"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// BenchmarkScore is one model's result on a benchmark.
type BenchmarkScore struct {
	ID    int64        `json:"id"`
	Score float64      `json:"score"`
	Model ModelSummary `json:"model"`
}

type Benchmark struct {
	BenchmarkSummary
	Category CategoryRef      `json:"category"`
	Scores   []BenchmarkScore `json:"scores"`
}

// ModelScore is one benchmark result of a model.
type ModelScore struct {
	ID        int64            `json:"id"`
	Score     float64          `json:"score"`
	Benchmark BenchmarkSummary `json:"benchmark"`
}

type Model struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	TypeID    int64        `json:"typeId"`
	Type      ModelType    `json:"type"`
	CreatedAt time.Time    `json:"createdAt"`
	Scores    []ModelScore `json:"scores"`
}

type Score struct {
	ID          int64     `json:"id"`
	BenchmarkID int64     `json:"benchmarkId"`
	ModelID     int64     `json:"modelId"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SearchResult struct {
	Benchmarks []Benchmark `json:"benchmarks"`
	Models     []Model     `json:"models"`
}

type CategoryInput struct {
	Name string `json:"name" binding:"required,max=100"`
}

type ModelTypeInput struct {
	Name string `json:"name" binding:"required,max=100"`
}

type ModelInput struct {
	Name   string `json:"name" binding:"required,max=200"`
	TypeID int64  `json:"typeId" binding:"required,gt=0"`
}

type BenchmarkInput struct {
	Name                string   `json:"name" binding:"required,max=200"`
	Description         string   `json:"description" binding:"required,max=5000"`
	CategoryID          int64    `json:"categoryId" binding:"required,gt=0"`
	LinkToPaper         *string  `json:"linkToPaper" binding:"omitempty,url,max=2000"`
	MethodologyOverview *string  `json:"methodologyOverview" binding:"omitempty,max=10000"`
	HumanBaseline       *float64 `json:"humanBaseline"`
}

// BenchmarkUpdateInput is a partial update; nil fields are left unchanged.
type BenchmarkUpdateInput struct {
	Name                *string  `json:"name" binding:"omitempty,min=1,max=200"`
	Description         *string  `json:"description" binding:"omitempty,max=5000"`
	CategoryID          *int64   `json:"categoryId" binding:"omitempty,gt=0"`
	LinkToPaper         *string  `json:"linkToPaper" binding:"omitempty,url,max=2000"`
	MethodologyOverview *string  `json:"methodologyOverview" binding:"omitempty,max=10000"`
	HumanBaseline       *float64 `json:"humanBaseline"`
}

func (in BenchmarkUpdateInput) empty() bool {
	return in.Name == nil && in.Description == nil && in.CategoryID == nil &&
		in.LinkToPaper == nil && in.MethodologyOverview == nil && in.HumanBaseline == nil
}

type ScoreInput struct {
	BenchmarkID int64    `json:"benchmarkId" binding:"required,gt=0"`
	ModelID     int64    `json:"modelId" binding:"required,gt=0"`
	Score       *float64 `json:"score" binding:"required"`
}
