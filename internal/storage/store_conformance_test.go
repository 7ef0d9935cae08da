package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evotree/internal/model"
)

func sampleRun(id string, started time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: Versioned(),
		ID:              id,
		Problem:         "regression",
		Seed:            7,
		PopulationSize:  20,
		MaxGenerations:  5,
		Generations:     5,
		BestFitness:     -0.5,
		BestExpression:  "(add X 1)",
		StartedAt:       started,
		FinishedAt:      started.Add(time.Second),
	}
}

// exerciseStore runs the behaviour every Store backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := store.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveRun(ctx, sampleRun("run-a", base)))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-b", base.Add(time.Minute))))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-c", base.Add(2*time.Minute))))

	run, ok, err := store.GetRun(ctx, "run-b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "(add X 1)", run.BestExpression)
	assert.Equal(t, model.Score(-0.5), run.BestFitness)
	assert.True(t, run.StartedAt.Equal(base.Add(time.Minute)))

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)

	history := []float64{math.Inf(-1), -3, -1.5}
	require.NoError(t, store.SaveFitnessHistory(ctx, "run-a", history))
	gotHistory, ok, err := store.GetFitnessHistory(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, gotHistory, 3)
	assert.True(t, math.IsInf(gotHistory[0], -1))
	assert.Equal(t, -1.5, gotHistory[2])

	generations := []model.GenerationSummary{
		{Generation: 0, BestFitness: -3, AverageFitness: model.Score(math.Inf(-1)), Failures: 20},
		{Generation: 1, BestFitness: -1.5, AverageFitness: -4, MeanLength: 6.5, Diversity: 12},
	}
	require.NoError(t, store.SaveGenerations(ctx, "run-a", generations))
	gotGenerations, ok, err := store.GetGenerations(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, gotGenerations, 2)
	assert.Equal(t, 20, gotGenerations[0].Failures)
	assert.Equal(t, 12, gotGenerations[1].Diversity)

	top := []model.IndividualRecord{
		{VersionedRecord: Versioned(), Rank: 1, Expression: "(add X 1)", Fitness: -1.5, Length: 3, Depth: 2},
		{VersionedRecord: Versioned(), Rank: 2, Expression: "X", Fitness: -2, Length: 1, Depth: 1},
	}
	require.NoError(t, store.SaveTopIndividuals(ctx, "run-a", top))
	gotTop, ok, err := store.GetTopIndividuals(ctx, "run-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, top, gotTop)

	require.NoError(t, store.DeleteRun(ctx, "run-a"))
	_, ok, err = store.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.GetTopIndividuals(ctx, "run-a")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
