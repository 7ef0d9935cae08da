package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord describes one completed or stopped evolutionary run.
type RunRecord struct {
	VersionedRecord
	ID             string `json:"id"`
	Problem        string `json:"problem"`
	Seed           int64  `json:"seed"`
	PopulationSize int    `json:"population_size"`
	MaxGenerations int    `json:"max_generations"`
	Generations    int    `json:"generations"`
	Stopped        bool   `json:"stopped"`
	BestFitness    Score  `json:"best_fitness"`
	BestExpression string `json:"best_expression"`
	// TestFitness scores the best tree on the holdout split, when there is one.
	TestFitness *Score `json:"test_fitness,omitempty"`
	// Tuned* describe the best tree after constant tuning, when enabled.
	TunedFitness    *Score    `json:"tuned_fitness,omitempty"`
	TunedExpression string    `json:"tuned_expression,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	// Config is the run configuration as loaded, kept verbatim for replay.
	Config map[string]any `json:"config,omitempty"`
}

type GenerationSummary struct {
	Generation     int     `json:"generation"`
	BestFitness    Score   `json:"best_fitness"`
	AverageFitness Score   `json:"average_fitness"`
	MinFitness     Score   `json:"min_fitness"`
	FitnessStdDev  float64 `json:"fitness_std_dev"`
	Failures       int     `json:"failures"`
	MeanLength     float64 `json:"mean_length"`
	MaxLength      int     `json:"max_length"`
	MeanDepth      float64 `json:"mean_depth"`
	MaxDepth       int     `json:"max_depth"`
	Diversity      int     `json:"fingerprint_diversity"`
	BestExpression string  `json:"best_expression,omitempty"`
}

// IndividualRecord is a ranked member of a final population.
type IndividualRecord struct {
	VersionedRecord
	Rank        int    `json:"rank"`
	Fingerprint string `json:"fingerprint"`
	Expression  string `json:"expression"`
	Infix       string `json:"infix,omitempty"`
	Fitness     Score  `json:"fitness"`
	Length      int    `json:"length"`
	Depth       int    `json:"depth"`
	Operation   string `json:"operation,omitempty"`
}
