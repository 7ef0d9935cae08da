//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreConformance(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "evotree.db"))
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() {
		_ = store.Close()
	})
	exerciseStore(t, store)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "evotree.db")

	store := NewSQLiteStore(dbPath)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", time.Unix(100, 0).UTC())))
	require.NoError(t, store.SaveFitnessHistory(ctx, "run-1", []float64{-2, -1}))
	require.NoError(t, store.Close())

	reopened := NewSQLiteStore(dbPath)
	require.NoError(t, reopened.Init(ctx))
	t.Cleanup(func() {
		_ = reopened.Close()
	})
	run, ok, err := reopened.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", run.ID)

	history, ok, err := reopened.GetFitnessHistory(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []float64{-2, -1}, history)
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "evotree.db"))
	_, _, err := store.GetRun(context.Background(), "x")
	require.Error(t, err)
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "evotree.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	require.NoError(t, CloseIfSupported(store))
	require.Equal(t, "sqlite", DefaultStoreKind())
}
