package core

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	maxImportDocumentBytes = 1 << 20
	maxImportScores        = 500
)

// BenchmarkImport is one benchmark document accepted by the import endpoint:
//
//	benchmark:
//	  name: GLUE
//	  description: General Language Understanding Evaluation benchmark
//	  category: Natural Language Processing
//	  link_to_paper: https://arxiv.org/abs/1804.07461
//	  methodology_overview: Collection of diverse NLP tasks
//	  human_baseline: 87.1
//	scores:
//	  - model: GPT-3
//	    type: Transformer
//	    score: 88.9
type BenchmarkImport struct {
	Benchmark ImportedBenchmark `yaml:"benchmark" json:"benchmark"`
	Scores    []ImportedScore   `yaml:"scores" json:"scores"`
}

type ImportedBenchmark struct {
	Name                string   `yaml:"name" json:"name"`
	Description         string   `yaml:"description" json:"description"`
	Category            string   `yaml:"category" json:"category"`
	LinkToPaper         *string  `yaml:"link_to_paper" json:"linkToPaper,omitempty"`
	MethodologyOverview *string  `yaml:"methodology_overview" json:"methodologyOverview,omitempty"`
	HumanBaseline       *float64 `yaml:"human_baseline" json:"humanBaseline,omitempty"`
}

type ImportedScore struct {
	Model string  `yaml:"model" json:"model"`
	Type  string  `yaml:"type" json:"type"`
	Score float64 `yaml:"score" json:"score"`
}

// ParseBenchmarkImport decodes and validates a YAML benchmark document.
// Unknown keys are rejected. All failures are validation errors.
func ParseBenchmarkImport(data []byte) (BenchmarkImport, error) {
	var doc BenchmarkImport
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, validationError("import document is empty")
	}
	if len(data) > maxImportDocumentBytes {
		return doc, validationError("import document exceeds %d bytes", maxImportDocumentBytes)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return doc, validationError("import document is empty")
		}
		return doc, &AppError{Kind: KindValidation, Message: "invalid import document: " + err.Error(), Err: err}
	}

	if err := doc.normalize(); err != nil {
		return BenchmarkImport{}, err
	}
	return doc, nil
}

func (d *BenchmarkImport) normalize() error {
	b := &d.Benchmark
	b.Name = strings.TrimSpace(b.Name)
	b.Category = strings.TrimSpace(b.Category)
	b.Description = strings.TrimSpace(b.Description)
	switch {
	case b.Name == "":
		return validationError("benchmark.name is required")
	case len(b.Name) > 200:
		return validationError("benchmark.name must be at most 200 characters")
	case b.Category == "":
		return validationError("benchmark.category is required")
	case len(b.Category) > 100:
		return validationError("benchmark.category must be at most 100 characters")
	case b.Description == "":
		return validationError("benchmark.description is required")
	}

	if b.LinkToPaper != nil {
		link := strings.TrimSpace(*b.LinkToPaper)
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return validationError("benchmark.link_to_paper must be an http(s) URL")
		}
		b.LinkToPaper = &link
	}
	if b.HumanBaseline != nil && !isFinite(*b.HumanBaseline) {
		return validationError("benchmark.human_baseline must be a finite number")
	}

	if len(d.Scores) > maxImportScores {
		return validationError("at most %d scores per document", maxImportScores)
	}
	seen := make(map[string]struct{}, len(d.Scores))
	for i := range d.Scores {
		s := &d.Scores[i]
		s.Model = strings.TrimSpace(s.Model)
		s.Type = strings.TrimSpace(s.Type)
		if s.Model == "" || s.Type == "" {
			return validationError("scores[%d]: model and type are required", i)
		}
		if !isFinite(s.Score) {
			return validationError("scores[%d]: score must be a finite number", i)
		}
		if _, dup := seen[s.Model]; dup {
			return validationError("scores[%d]: duplicate model %q", i, s.Model)
		}
		seen[s.Model] = struct{}{}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
