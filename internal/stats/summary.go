package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SeriesSummary describes a best-fitness series. Non-finite entries (whole
// generations that failed) are left out of every statistic.
type SeriesSummary struct {
	Points      int     `json:"points"`
	Failed      int     `json:"failed"`
	Initial     float64 `json:"initial"`
	Final       float64 `json:"final"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Median      float64 `json:"median"`
	Improvement float64 `json:"improvement"`
	// Stagnation counts trailing generations without a new maximum.
	Stagnation int `json:"stagnation"`
}

func SummarizeSeries(series []float64) SeriesSummary {
	out := SeriesSummary{}
	values := make([]float64, 0, len(series))
	for _, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.Failed++
			continue
		}
		values = append(values, v)
	}
	out.Points = len(values)
	if len(values) == 0 {
		return out
	}

	out.Initial = values[0]
	out.Final = values[len(values)-1]
	out.Improvement = out.Final - out.Initial
	out.Min = floats.Min(values)
	out.Max = floats.Max(values)
	if len(values) > 1 {
		out.Mean, out.StdDev = stat.MeanStdDev(values, nil)
	} else {
		out.Mean = values[0]
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	out.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	best := math.Inf(-1)
	lastImprovement := 0
	for i, v := range values {
		if v > best {
			best = v
			lastImprovement = i
		}
	}
	out.Stagnation = len(values) - 1 - lastImprovement
	return out
}

// Converged reports whether the last window points of series vary by no more
// than tolerance.
func Converged(series []float64, window int, tolerance float64) bool {
	if window <= 1 || len(series) < window {
		return false
	}
	tail := series[len(series)-window:]
	for _, v := range tail {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return floats.Max(tail)-floats.Min(tail) <= tolerance
}
