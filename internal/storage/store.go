package storage

import (
	"context"

	"evotree/internal/model"
)

// Store persists run records and the per-run series produced by the
// evolutionary loop. Get methods report absence with ok=false, not an error.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first; limit <= 0 returns all of them.
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerations(ctx context.Context, runID string, generations []model.GenerationSummary) error
	GetGenerations(ctx context.Context, runID string) ([]model.GenerationSummary, bool, error)
	SaveTopIndividuals(ctx context.Context, runID string, top []model.IndividualRecord) error
	GetTopIndividuals(ctx context.Context, runID string) ([]model.IndividualRecord, bool, error)
}
