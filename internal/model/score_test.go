package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestScoreWritesFailuresAsNull(t *testing.T) {
	data, err := json.Marshal([]Score{1.5, Score(math.Inf(-1)), Score(math.NaN())})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[1.5,null,null]" {
		t.Fatalf("unexpected encoding: %s", data)
	}

	var back []Score
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back[0] != 1.5 || !math.IsInf(float64(back[1]), -1) {
		t.Fatalf("unexpected decoding: %v", back)
	}
}

func TestScoreFieldInRecord(t *testing.T) {
	record := IndividualRecord{Rank: 1, Expression: "(add X 1)", Fitness: Score(math.Inf(-1))}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded IndividualRecord
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsInf(float64(decoded.Fitness), -1) || decoded.Expression != record.Expression {
		t.Fatalf("unexpected round trip: %+v", decoded)
	}
}
