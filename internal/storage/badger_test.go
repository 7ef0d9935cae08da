package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evotree/internal/model"
)

func TestBadgerStoreConformance(t *testing.T) {
	store := NewBadgerStore("")
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "badger")

	store := NewBadgerStore(dir)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", time.Unix(100, 0).UTC())))
	require.NoError(t, store.SaveTopIndividuals(ctx, "run-1", []model.IndividualRecord{{
		VersionedRecord: Versioned(),
		Rank:            1,
		Fitness:         -0.25,
		Expression:      "(mul X X)",
	}}))
	require.NoError(t, store.Close())

	reopened := NewBadgerStore(dir)
	require.NoError(t, reopened.Init(ctx))
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	run, ok, err := reopened.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", run.ID)

	top, ok, err := reopened.GetTopIndividuals(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, top, 1)
	assert.Equal(t, "(mul X X)", top[0].Expression)
}

func TestBadgerStoreRequiresInit(t *testing.T) {
	store := NewBadgerStore("")
	_, _, err := store.GetRun(context.Background(), "x")
	require.Error(t, err)
	require.NoError(t, store.Close())
}

func TestNewStoreBadger(t *testing.T) {
	store, err := NewStore("badger", "")
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, CloseIfSupported(store))
}
