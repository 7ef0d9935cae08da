package storage

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"evotree/internal/model"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

func TestDecodeRunFixture(t *testing.T) {
	run, err := DecodeRun(readFixture(t, "run_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-minimal-1" || run.Seed != 42 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.BestFitness != -0.125 {
		t.Fatalf("unexpected best fitness: %v", run.BestFitness)
	}
	if run.FinishedAt.Sub(run.StartedAt).Seconds() != 4 {
		t.Fatalf("unexpected timestamps: %v %v", run.StartedAt, run.FinishedAt)
	}
}

func TestDecodeRunRejectsOldSchema(t *testing.T) {
	_, err := DecodeRun(readFixture(t, "run_v0.json"))
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestRunCodecRoundTrip(t *testing.T) {
	input := model.RunRecord{
		VersionedRecord: Versioned(),
		ID:              "r1",
		BestFitness:     model.Score(math.Inf(-1)),
		Config:          map[string]any{"population_size": 10.0},
	}
	data, err := EncodeRun(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !math.IsInf(float64(output.BestFitness), -1) || output.Config["population_size"] != 10.0 {
		t.Fatalf("unexpected round trip: %+v", output)
	}
}

func TestDecodeTopIndividualsChecksEveryRecord(t *testing.T) {
	data, err := EncodeTopIndividuals([]model.IndividualRecord{
		{VersionedRecord: Versioned(), Rank: 1},
		{Rank: 2},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeTopIndividuals(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestFitnessHistoryKeepsFailures(t *testing.T) {
	data, err := EncodeFitnessHistory([]float64{math.Inf(-1), 0.5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != "[null,0.5]" {
		t.Fatalf("unexpected encoding: %s", data)
	}
	history, err := DecodeFitnessHistory(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !math.IsInf(history[0], -1) || history[1] != 0.5 {
		t.Fatalf("unexpected history: %v", history)
	}
}
